package simulation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
	"github.com/halewood/strata/internal/services/loader"
	"github.com/halewood/strata/internal/services/report"
)

// Compile-time interface check
var _ interfaces.SimulationDriver = (*Driver)(nil)

// Cash buckets the driver deposits collections into.
const (
	BucketInterestAvailable  = "IAF"
	BucketPrincipalAvailable = "PAF"
)

// defaultCleanupFactor is the pool factor at which a cleanup call without
// an explicit threshold rule is exercisable.
const defaultCleanupFactor = 0.10

// defaultCleanupCoupon prices the call when a bond's coupon is unknown.
const defaultCleanupCoupon = 0.05

// Driver implements SimulationDriver. It is purely CPU-bound: all inputs
// arrive materialized and cancellation is observed only at period
// boundaries.
type Driver struct {
	runner     interfaces.WaterfallRunner
	engine     interfaces.RuleEngine
	collateral interfaces.CollateralModel
	ml         interfaces.MLCashflowProvider // optional
	logger     *common.Logger
}

// NewDriver creates a new simulation driver. The ML provider may be nil;
// rule-based projection is used when it is absent.
func NewDriver(runner interfaces.WaterfallRunner, engine interfaces.RuleEngine, collateralModel interfaces.CollateralModel, ml interfaces.MLCashflowProvider, logger *common.Logger) *Driver {
	return &Driver{
		runner:     runner,
		engine:     engine,
		collateral: collateralModel,
		ml:         ml,
		logger:     logger,
	}
}

// RunSimulation replays servicer actuals through the waterfall, aligns
// state to the latest actual, projects the remaining horizon, and returns
// the report table plus reconciliation entries.
func (d *Driver) RunSimulation(ctx context.Context, def *models.DealDefinition, collateralPayload map[string]any, rows []models.TapeRow, opts interfaces.RunOptions) (*models.RunResult, error) {
	if opts.HorizonPeriods <= 0 {
		opts.HorizonPeriods = 60
	}

	runID := uuid.NewString()
	st := models.NewDealState(def)
	if len(collateralPayload) > 0 {
		for k, v := range loader.NormalizeCollateral(collateralPayload) {
			st.Collateral[k] = v
		}
	}

	d.logger.Info().
		Str("run_id", runID).
		Str("deal_id", def.DealID()).
		Int("horizon", opts.HorizonPeriods).
		Int("tape_rows", len(rows)).
		Msg("Simulation started")

	// Phase A: normalize and aggregate the tape
	actuals, bondBalances := aggregateTape(rows, d.logger)

	// Phase B: apply actuals period by period
	var recon []models.ReconciliationEntry
	var totalPrincipalCollected float64
	var lastActualEnd float64
	hasLastActualEnd := false
	maxActual := 0
	baseDate := time.Now().UTC()

	for _, pa := range actuals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.applyActuals(st, pa); err != nil {
			return nil, err
		}

		if opts.ApplyWaterfallToActuals {
			if err := d.runner.RunPeriod(st); err != nil {
				return nil, fmt.Errorf("period %d: %w", pa.period, err)
			}
		} else {
			if err := d.runner.EvaluatePeriod(st); err != nil {
				return nil, fmt.Errorf("period %d: %w", pa.period, err)
			}
		}

		recon = append(recon, reconcilePeriod(st, pa.period, bondBalances[pa.period])...)
		st.TakeSnapshot(snapshotDate(baseDate, pa.period))

		if pa.period > maxActual {
			maxActual = pa.period
		}
		totalPrincipalCollected += pa.flows["PrincipalCollected"]
		if pa.hasEndBalance {
			lastActualEnd = pa.endBalance
			hasLastActualEnd = true
		}
	}

	// Phase C: align to the latest actual
	st.PeriodIndex = maxActual
	if !opts.ApplyWaterfallToActuals {
		for id, bal := range bondBalances[maxActual] {
			if b, ok := st.Bonds[id]; ok {
				b.CurrentBalance = bal
			}
		}
	}

	// Phase D: project the remaining horizon
	remaining := opts.HorizonPeriods - st.PeriodIndex
	if remaining < 0 {
		remaining = 0
	}

	var projected []models.PeriodCashflow
	mlUsed := false
	if remaining > 0 {
		var err error
		projected, mlUsed, err = d.projectCashflows(ctx, def, st, remaining, opts, hasLastActualEnd, lastActualEnd, totalPrincipalCollected)
		if err != nil {
			return nil, err
		}
	}

	preIndex := st.PeriodIndex
	terminated := false
	projectedRun := 0
	for _, row := range projected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		period := row.Period + preIndex

		if err := d.applyProjected(st, row, mlUsed); err != nil {
			return nil, err
		}

		// Trigger variables reset each projected period so a breach in one
		// period does not linger as a stale string
		if def.HasVariable("DelinqTrigger") {
			st.SetVariable("DelinqTrigger", "False")
		}

		called, err := d.checkCleanupCall(st)
		if err != nil {
			return nil, err
		}
		if called {
			d.exerciseCleanupCall(st)
			st.TakeSnapshot(snapshotDate(baseDate, period))
			projectedRun++
			terminated = true
			d.logger.Info().Str("run_id", runID).Int("period", period).Msg("Cleanup call exercised; deal terminated")
			break
		}

		if err := d.runner.RunPeriod(st); err != nil {
			return nil, fmt.Errorf("period %d: %w", period, err)
		}
		st.TakeSnapshot(snapshotDate(baseDate, period))
		projectedRun++
	}

	// Phase E: report
	table := report.Generate(st.History)

	d.logger.Info().
		Str("run_id", runID).
		Int("actual_periods", len(actuals)).
		Int("projected_periods", projectedRun).
		Int("reconciliation_entries", len(recon)).
		Bool("terminated", terminated).
		Msg("Simulation finished")

	return &models.RunResult{
		RunID:            runID,
		Report:           table,
		Reconciliation:   recon,
		PeriodsRun:       len(st.History),
		ActualPeriods:    len(actuals),
		ProjectedPeriods: projectedRun,
		Terminated:       terminated,
	}, nil
}

// applyActuals deposits one period of tape collections and publishes the
// input variables rules can observe.
func (d *Driver) applyActuals(st *models.DealState, pa periodActuals) error {
	if err := d.depositCollections(st, pa.flows["InterestCollected"], pa.flows["PrincipalCollected"]); err != nil {
		return err
	}

	st.SetVariable("InputInterestCollected", pa.flows["InterestCollected"])
	st.SetVariable("InputPrincipalCollected", pa.flows["PrincipalCollected"])
	st.SetVariable("InputRealizedLoss", pa.flows["RealizedLoss"])
	st.SetVariable("InputPrepayment", pa.flows["Prepayment"])
	st.SetVariable("InputScheduledPrincipal", pa.flows["ScheduledPrincipal"])
	st.SetVariable("InputScheduledInterest", pa.flows["ScheduledInterest"])
	st.SetVariable("InputServicerAdvances", pa.flows["ServicerAdvances"])
	st.SetVariable("InputRecoveries", pa.flows["Recoveries"])
	st.SetVariable("RealizedLoss", pa.flows["RealizedLoss"])
	st.SetVariable("ModelSource", "Actuals")
	st.SetVariable("MLUsed", false)

	for _, col := range []string{"Delinq30", "Delinq60", "Delinq90Plus", "Delinq60Plus"} {
		if rate, ok := pa.last[col]; ok {
			st.SetVariable(col, rate)
		}
	}
	if rate, ok := pa.last["Delinq60Plus"]; ok {
		st.SetVariable("Delinq60PlusBalance", rate*st.CollateralNumber("current_balance"))
	}
	if pa.hasPoolStatus {
		st.SetVariable("PoolStatus", pa.poolStatus)
	}

	if pa.hasEndBalance {
		st.Collateral["current_balance"] = pa.endBalance
		st.SetVariable("PoolEndBalance", pa.endBalance)
		st.SetVariable("InputEndBalance", pa.endBalance)
	}

	return nil
}

// applyProjected deposits one projected period and publishes its inputs.
func (d *Driver) applyProjected(st *models.DealState, row models.PeriodCashflow, mlUsed bool) error {
	if err := d.depositCollections(st, row.InterestCollected, row.PrincipalCollected); err != nil {
		return err
	}

	st.SetVariable("InputInterestCollected", row.InterestCollected)
	st.SetVariable("InputPrincipalCollected", row.PrincipalCollected)
	st.SetVariable("InputRealizedLoss", row.RealizedLoss)
	st.SetVariable("InputPrepayment", row.Prepayment)
	st.SetVariable("InputScheduledPrincipal", row.ScheduledPrincipal)
	st.SetVariable("InputScheduledInterest", row.ScheduledInterest)
	st.SetVariable("InputServicerAdvances", row.ServicerAdvances)
	st.SetVariable("InputRecoveries", row.Recoveries)
	st.SetVariable("RealizedLoss", row.RealizedLoss)
	if mlUsed {
		st.SetVariable("ModelSource", "ML")
	} else {
		st.SetVariable("ModelSource", "RuleBased")
	}
	st.SetVariable("MLUsed", mlUsed)

	st.Collateral["current_balance"] = row.EndBalance
	st.SetVariable("PoolEndBalance", row.EndBalance)
	st.SetVariable("InputEndBalance", row.EndBalance)

	return nil
}

// depositCollections routes interest and principal collections into the
// available-funds buckets. Deals without the conventional buckets only
// get a warning; the flows remain observable through Input* variables.
func (d *Driver) depositCollections(st *models.DealState, interest, principal float64) error {
	if _, ok := st.CashBalances[BucketInterestAvailable]; ok {
		if err := st.Deposit(BucketInterestAvailable, interest); err != nil {
			return err
		}
	} else if interest > 0 {
		d.logger.Warn().Str("bucket", BucketInterestAvailable).Msg("Deal defines no interest-available bucket; interest collections not deposited")
	}

	if _, ok := st.CashBalances[BucketPrincipalAvailable]; ok {
		if err := st.Deposit(BucketPrincipalAvailable, principal); err != nil {
			return err
		}
	} else if principal > 0 {
		d.logger.Warn().Str("bucket", BucketPrincipalAvailable).Msg("Deal defines no principal-available bucket; principal collections not deposited")
	}

	return nil
}

// projectCashflows produces the remaining-horizon cashflows, delegating to
// the external ML provider when the collateral selects one.
func (d *Driver) projectCashflows(ctx context.Context, def *models.DealDefinition, st *models.DealState, remaining int, opts interfaces.RunOptions, hasLastActualEnd bool, lastActualEnd, totalPrincipalCollected float64) ([]models.PeriodCashflow, bool, error) {
	if req, ok := d.mlRequest(st, remaining); ok {
		rows, err := d.ml.GenerateCashflows(ctx, req)
		if err != nil {
			return nil, false, &models.ExternalFailureError{Msg: "ML cashflow generation failed", Err: err}
		}
		if len(rows) == 0 {
			return nil, false, &models.ExternalFailureError{Msg: "ML cashflow generation failed", Err: fmt.Errorf("provider returned no cashflows")}
		}
		return rows, true, nil
	}

	start := lastActualEnd
	if !hasLastActualEnd {
		start = st.CollateralNumber("current_balance")
		if start <= 0 {
			start = st.CollateralNumber("original_balance") - totalPrincipalCollected
		}
	}
	if start < 0 {
		start = 0
	}

	_, wac, wam := loader.PoolFromCollateral(st.Collateral)
	pool := interfaces.Pool{Balance: start, WAC: wac, WAM: wam}
	return d.collateral.GenerateCashflows(pool, remaining, opts.CPR, opts.CDR, opts.Severity), false, nil
}

// mlRequest decides whether an ML projection applies and assembles the
// request. Requires an enabled config or an ML model interface kind, an
// origination source URI, and a wired provider.
func (d *Driver) mlRequest(st *models.DealState, remaining int) (interfaces.MLRequest, bool) {
	if d.ml == nil {
		return interfaces.MLRequest{}, false
	}

	enabled := false
	cfgMap, _ := st.Collateral["ml_config"].(map[string]any)
	if cfgMap != nil {
		if on, ok := cfgMap["enabled"].(bool); ok && on {
			enabled = true
		}
	}
	if mi, ok := st.Collateral["model_interface"].(map[string]any); ok {
		if kind, ok := mi["kind"].(string); ok && (kind == "FREDDIE_MAC_ML" || kind == "ML_PORTFOLIO") {
			enabled = true
		}
	}
	if !enabled {
		return interfaces.MLRequest{}, false
	}

	originURI := ""
	if ld, ok := st.Collateral["loan_data"].(map[string]any); ok {
		if ref, ok := ld["schema_ref"].(map[string]any); ok {
			if uri, ok := ref["source_uri"].(string); ok {
				originURI = uri
			}
		}
	}
	if originURI == "" {
		return interfaces.MLRequest{}, false
	}

	cfg := interfaces.MLProviderConfig{}
	if cfgMap != nil {
		if v, ok := cfgMap["rate_scenario"].(string); ok {
			cfg.RateScenario = v
		}
		if f, ok := models.CoerceFloat(cfgMap["start_rate"]); ok {
			cfg.StartRate = f
		}
		if f, ok := models.CoerceFloat(cfgMap["rate_sensitivity"]); ok {
			cfg.RateSensitivity = f
		}
		if f, ok := models.CoerceFloat(cfgMap["base_cpr"]); ok {
			cfg.BaseCPR = f
		}
		if f, ok := models.CoerceFloat(cfgMap["base_cdr"]); ok {
			cfg.BaseCDR = f
		}
		if v, ok := cfgMap["feature_source"].(string); ok {
			cfg.FeatureSource = v
		}
		if v, ok := cfgMap["prepay_model_key"].(string); ok {
			cfg.PrepayModelKey = v
		}
		if v, ok := cfgMap["default_model_key"].(string); ok {
			cfg.DefaultModelKey = v
		}
		if v, ok := cfgMap["severity_model"].(string); ok {
			cfg.SeverityModel = v
		}
	}

	performanceURI := ""
	if ld, ok := st.Collateral["loan_data"].(map[string]any); ok {
		if uri, ok := ld["performance_uri"].(string); ok {
			performanceURI = uri
		}
	}

	ratePath := make([]float64, remaining)
	for i := range ratePath {
		ratePath[i] = cfg.StartRate
	}

	return interfaces.MLRequest{
		OriginationURI:   originURI,
		PerformanceURI:   performanceURI,
		RatePath:         ratePath,
		Config:           cfg,
		RemainingPeriods: remaining,
	}, true
}

// checkCleanupCall evaluates whether the cleanup call is exercisable this
// period.
func (d *Driver) checkCleanupCall(st *models.DealState) (bool, error) {
	cc := st.Def.Options.CleanupCall
	if cc == nil || !cc.Enabled {
		return false, nil
	}

	if cc.ThresholdRule != "" {
		return d.engine.EvaluateCondition(cc.ThresholdRule, st)
	}

	original := st.CollateralNumber("original_balance")
	if original <= 0 {
		return false, nil
	}
	return st.CollateralNumber("current_balance")/original <= defaultCleanupFactor, nil
}

// exerciseCleanupCall terminates the deal: bonds are redeemed at balance
// plus one month of coupon, every register is zeroed, and the termination
// is recorded through variables rather than an error.
func (d *Driver) exerciseCleanupCall(st *models.DealState) {
	st.SetVariable("CleanupCallTriggered", true)
	st.SetVariable("CleanupCallExercised", true)

	cleanupAmount := 0.0
	for id, bond := range st.Bonds {
		coupon := defaultCleanupCoupon
		if def, ok := st.Def.Bonds[id]; ok && def.FixedRate > 0 {
			coupon = def.FixedRate
		}
		cleanupAmount += bond.CurrentBalance + bond.CurrentBalance*coupon/12
	}
	st.SetVariable("CleanupCallAmount", cleanupAmount)
	st.SetVariable("DealTerminated", true)

	for _, bond := range st.Bonds {
		bond.CurrentBalance = 0
	}
	for id := range st.CashBalances {
		st.CashBalances[id] = 0
	}
	st.Collateral["current_balance"] = 0.0
}

// reconcilePeriod compares model bond balances against the tape for one
// period. Absent tape bond rows mean nothing to reconcile.
func reconcilePeriod(st *models.DealState, period int, tape map[string]float64) []models.ReconciliationEntry {
	if len(tape) == 0 {
		return nil
	}

	var entries []models.ReconciliationEntry

	tapeBonds := make([]string, 0, len(tape))
	for id := range tape {
		tapeBonds = append(tapeBonds, id)
	}
	sort.Strings(tapeBonds)

	for _, id := range tapeBonds {
		tapeBal := tape[id]
		bond, ok := st.Bonds[id]
		if !ok {
			entries = append(entries, models.ReconciliationEntry{
				Period:      period,
				BondID:      id,
				TapeBalance: tapeBal,
				Delta:       -tapeBal,
				Status:      models.ReconUnknownBond,
			})
			continue
		}
		delta := bond.CurrentBalance - tapeBal
		if delta > models.ReconciliationTolerance || delta < -models.ReconciliationTolerance {
			entries = append(entries, models.ReconciliationEntry{
				Period:       period,
				BondID:       id,
				ModelBalance: bond.CurrentBalance,
				TapeBalance:  tapeBal,
				Delta:        delta,
				Status:       models.ReconBalanceMismatch,
			})
		}
	}

	modelBonds := make([]string, 0, len(st.Bonds))
	for id := range st.Bonds {
		modelBonds = append(modelBonds, id)
	}
	sort.Strings(modelBonds)

	for _, id := range modelBonds {
		if _, ok := tape[id]; ok {
			continue
		}
		entries = append(entries, models.ReconciliationEntry{
			Period:       period,
			BondID:       id,
			ModelBalance: st.Bonds[id].CurrentBalance,
			Delta:        st.Bonds[id].CurrentBalance,
			Status:       models.ReconMissingInTape,
		})
	}

	return entries
}

// snapshotDate is the ISO close date for a period: today + 30·period days.
func snapshotDate(base time.Time, period int) string {
	return base.AddDate(0, 0, 30*period).Format("2006-01-02")
}
