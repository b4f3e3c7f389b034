package simulation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
	"github.com/halewood/strata/internal/services/collateral"
	"github.com/halewood/strata/internal/services/rules"
	"github.com/halewood/strata/internal/services/waterfall"
)

// mockMLProvider is a canned MLCashflowProvider.
type mockMLProvider struct {
	rows    []models.PeriodCashflow
	err     error
	lastReq interfaces.MLRequest
	calls   int
}

func (m *mockMLProvider) GenerateCashflows(ctx context.Context, req interfaces.MLRequest) ([]models.PeriodCashflow, error) {
	m.calls++
	m.lastReq = req
	return m.rows, m.err
}

func newTestDriver(ml interfaces.MLCashflowProvider) *Driver {
	logger := common.NewSilentLogger()
	engine := rules.NewEngine(logger)
	return NewDriver(waterfall.NewRunner(engine, logger), engine, collateral.NewModel(logger), ml, logger)
}

// testDeal is a two-bond sequential structure with the conventional
// available-funds buckets. Interest is swept out as fees; principal pays
// A then B.
func testDeal() *models.DealDefinition {
	return &models.DealDefinition{
		Meta: map[string]any{"deal_id": "TEST-2026-1"},
		Bonds: map[string]*models.Bond{
			"A": {ID: "A", OriginalBalance: 800000, FixedRate: 0.05},
			"B": {ID: "B", OriginalBalance: 200000, FixedRate: 0.07},
		},
		BondOrder: []string{"A", "B"},
		Funds: map[string]*models.Fund{
			BucketInterestAvailable:  {ID: BucketInterestAvailable},
			BucketPrincipalAvailable: {ID: BucketPrincipalAvailable},
		},
		Waterfalls: map[string]*models.Waterfall{
			models.WaterfallInterest: {
				Steps: []models.WaterfallStep{
					{Action: models.ActionPayFee, FromFund: BucketInterestAvailable, Condition: "true", AmountRule: "ALL"},
				},
			},
			models.WaterfallPrincipal: {
				Steps: []models.WaterfallStep{
					{Action: models.ActionPayBondPrincipal, FromFund: BucketPrincipalAvailable, Group: "A", Condition: "true", AmountRule: "ALL"},
					{Action: models.ActionPayBondPrincipal, FromFund: BucketPrincipalAvailable, Group: "B", Condition: "true", AmountRule: "ALL"},
				},
			},
		},
		WriteDownOrder: []string{"B", "A"},
		Collateral: map[string]any{
			"original_balance": 1000000.0,
			"current_balance":  1000000.0,
			"wac":              0.06,
			"wam":              12.0,
		},
	}
}

func TestRunSimulation_ProjectionOnly(t *testing.T) {
	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 12, ApplyWaterfallToActuals: true}

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, nil, opts)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 12, result.PeriodsRun)
	assert.Equal(t, 0, result.ActualPeriods)
	assert.Equal(t, 12, result.ProjectedPeriods)
	assert.False(t, result.Terminated)
	assert.Empty(t, result.Reconciliation)

	require.Len(t, result.Report.Rows, 12)

	// With no prepayments or defaults the 12-month pool returns its full
	// balance, retiring both bonds.
	last := result.Report.Rows[len(result.Report.Rows)-1]
	balA := columnValue(t, result.Report, last, "Bond.A.Balance")
	balB := columnValue(t, result.Report, last, "Bond.B.Balance")
	assert.InDelta(t, 0, balA.(float64), 0.01)
	assert.InDelta(t, 0, balB.(float64), 0.01)

	source := columnValue(t, result.Report, last, "Var.ModelSource")
	assert.Equal(t, "RuleBased", source)
	used := columnValue(t, result.Report, last, "Var.MLUsed")
	assert.Equal(t, false, used)
}

func TestRunSimulation_ActualsThenProjection(t *testing.T) {
	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 3, ApplyWaterfallToActuals: true}

	rows := []models.TapeRow{
		{"Period": 1.0, "InterestCollected": 5000.0, "PrincipalCollected": 20000.0, "EndBalance": 980000.0},
		{"Period": 2.0, "InterestCollected": 4900.0, "PrincipalCollected": 21000.0, "EndBalance": 959000.0},
	}

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, rows, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ActualPeriods)
	assert.Equal(t, 1, result.ProjectedPeriods)
	assert.Equal(t, 3, result.PeriodsRun)

	// Actual periods flow through the waterfall: 41000 of tape principal
	// pays down bond A.
	second := result.Report.Rows[1]
	balA := columnValue(t, result.Report, second, "Bond.A.Balance")
	assert.InDelta(t, 800000-41000, balA.(float64), 0.01)

	source := columnValue(t, result.Report, second, "Var.ModelSource")
	assert.Equal(t, "Actuals", source)

	// The projection resumes from the last actual end balance
	third := result.Report.Rows[2]
	source = columnValue(t, result.Report, third, "Var.ModelSource")
	assert.Equal(t, "RuleBased", source)
	end := columnValue(t, result.Report, third, "Var.PoolEndBalance")
	assert.Less(t, end.(float64), 959000.0)
}

func TestRunSimulation_Reconciliation(t *testing.T) {
	driver := newTestDriver(nil)
	// Eval-only keeps model balances at original, making deltas predictable
	opts := interfaces.RunOptions{HorizonPeriods: 1, ApplyWaterfallToActuals: false}

	rows := []models.TapeRow{
		{"Period": 1.0, "InterestCollected": 5000.0, "PrincipalCollected": 20000.0},
		{"Period": 1.0, "BondId": "A", "BondBalance": 780000.0},
		{"Period": 1.0, "BondId": "Z", "BondBalance": 5000.0},
	}

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, rows, opts)
	require.NoError(t, err)

	require.Len(t, result.Reconciliation, 3)

	byStatus := map[models.ReconciliationStatus]models.ReconciliationEntry{}
	for _, entry := range result.Reconciliation {
		byStatus[entry.Status] = entry
	}

	mismatch := byStatus[models.ReconBalanceMismatch]
	assert.Equal(t, "A", mismatch.BondID)
	assert.Equal(t, 1, mismatch.Period)
	assert.InDelta(t, 800000.0, mismatch.ModelBalance, 1e-9)
	assert.InDelta(t, 780000.0, mismatch.TapeBalance, 1e-9)
	assert.InDelta(t, 20000.0, mismatch.Delta, 1e-9)

	unknown := byStatus[models.ReconUnknownBond]
	assert.Equal(t, "Z", unknown.BondID)
	assert.InDelta(t, -5000.0, unknown.Delta, 1e-9)

	missing := byStatus[models.ReconMissingInTape]
	assert.Equal(t, "B", missing.BondID)
	assert.InDelta(t, 200000.0, missing.Delta, 1e-9)
}

func TestRunSimulation_WithinToleranceNotReported(t *testing.T) {
	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 1, ApplyWaterfallToActuals: false}

	rows := []models.TapeRow{
		{"Period": 1.0, "BondId": "A", "BondBalance": 799999.50},
		{"Period": 1.0, "BondId": "B", "BondBalance": 200000.0},
	}

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, rows, opts)
	require.NoError(t, err)
	assert.Empty(t, result.Reconciliation)
}

func TestRunSimulation_EvalOnlyAlignsFromTape(t *testing.T) {
	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 2, ApplyWaterfallToActuals: false}

	rows := []models.TapeRow{
		{"Period": 1.0, "InterestCollected": 5000.0, "PrincipalCollected": 20000.0, "EndBalance": 980000.0},
		{"Period": 1.0, "BondId": "A", "BondBalance": 780000.0},
		{"Period": 1.0, "BondId": "B", "BondBalance": 200000.0},
	}

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, rows, opts)
	require.NoError(t, err)

	// Without the waterfall the model cannot move balances itself, so the
	// alignment phase adopts the tape's observed balances before projecting.
	second := result.Report.Rows[1]
	balA := columnValue(t, result.Report, second, "Bond.A.Balance")
	assert.Less(t, balA.(float64), 780000.0)
}

func TestRunSimulation_CleanupCall(t *testing.T) {
	def := testDeal()
	def.Options.CleanupCall = &models.CleanupCall{
		Enabled:       true,
		ThresholdRule: "collateral.current_balance < 950000",
	}

	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 12, ApplyWaterfallToActuals: true}

	result, err := driver.RunSimulation(context.Background(), def, nil, nil, opts)
	require.NoError(t, err)

	assert.True(t, result.Terminated)
	assert.Less(t, result.ProjectedPeriods, 12)

	last := result.Report.Rows[len(result.Report.Rows)-1]
	assert.Equal(t, 0.0, columnValue(t, result.Report, last, "Bond.A.Balance"))
	assert.Equal(t, 0.0, columnValue(t, result.Report, last, "Bond.B.Balance"))
	assert.Equal(t, true, columnValue(t, result.Report, last, "Var.CleanupCallExercised"))
	assert.Equal(t, true, columnValue(t, result.Report, last, "Var.DealTerminated"))

	amount := columnValue(t, result.Report, last, "Var.CleanupCallAmount").(float64)
	assert.Greater(t, amount, 0.0)
}

func TestRunSimulation_CleanupCallDefaultFactor(t *testing.T) {
	def := testDeal()
	def.Options.CleanupCall = &models.CleanupCall{Enabled: true}
	def.Collateral["current_balance"] = 90000.0

	driver := newTestDriver(nil)
	opts := interfaces.RunOptions{HorizonPeriods: 5, ApplyWaterfallToActuals: true}

	result, err := driver.RunSimulation(context.Background(), def, nil, nil, opts)
	require.NoError(t, err)

	// Pool factor 9% is under the 10% default threshold on the first
	// projected period.
	assert.True(t, result.Terminated)
	assert.Equal(t, 1, result.ProjectedPeriods)
}

func TestRunSimulation_MLProvider(t *testing.T) {
	mlRows := []models.PeriodCashflow{
		{Period: 1, BeginBalance: 1000000, EndBalance: 970000, InterestCollected: 5000, PrincipalCollected: 30000},
		{Period: 2, BeginBalance: 970000, EndBalance: 940000, InterestCollected: 4850, PrincipalCollected: 30000},
	}
	provider := &mockMLProvider{rows: mlRows}
	driver := newTestDriver(provider)

	payload := map[string]any{
		"ml_config": map[string]any{
			"enabled":       true,
			"rate_scenario": "stable",
			"start_rate":    0.045,
			"base_cpr":      0.08,
		},
		"loan_data": map[string]any{
			"schema_ref": map[string]any{"source_uri": "s3://pool/origination.parquet"},
		},
	}

	opts := interfaces.RunOptions{HorizonPeriods: 2, ApplyWaterfallToActuals: true}
	result, err := driver.RunSimulation(context.Background(), testDeal(), payload, nil, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "s3://pool/origination.parquet", provider.lastReq.OriginationURI)
	assert.Equal(t, 2, provider.lastReq.RemainingPeriods)
	assert.Equal(t, "stable", provider.lastReq.Config.RateScenario)
	assert.Equal(t, 0.045, provider.lastReq.Config.StartRate)
	require.Len(t, provider.lastReq.RatePath, 2)
	assert.Equal(t, 0.045, provider.lastReq.RatePath[0])

	assert.Equal(t, 2, result.ProjectedPeriods)
	last := result.Report.Rows[len(result.Report.Rows)-1]
	assert.Equal(t, "ML", columnValue(t, result.Report, last, "Var.ModelSource"))
	assert.Equal(t, true, columnValue(t, result.Report, last, "Var.MLUsed"))
}

func TestRunSimulation_MLProviderFailure(t *testing.T) {
	provider := &mockMLProvider{err: fmt.Errorf("model endpoint unreachable")}
	driver := newTestDriver(provider)

	payload := map[string]any{
		"ml_config": map[string]any{"enabled": true},
		"loan_data": map[string]any{
			"schema_ref": map[string]any{"source_uri": "s3://pool/origination.parquet"},
		},
	}

	opts := interfaces.RunOptions{HorizonPeriods: 2, ApplyWaterfallToActuals: true}
	_, err := driver.RunSimulation(context.Background(), testDeal(), payload, nil, opts)
	require.Error(t, err)

	var extErr *models.ExternalFailureError
	require.ErrorAs(t, err, &extErr)
	assert.Contains(t, err.Error(), "ML cashflow generation failed")
}

func TestRunSimulation_MLProviderEmptyResultFails(t *testing.T) {
	provider := &mockMLProvider{rows: nil}
	driver := newTestDriver(provider)

	payload := map[string]any{
		"ml_config": map[string]any{"enabled": true},
		"loan_data": map[string]any{
			"schema_ref": map[string]any{"source_uri": "s3://pool/origination.parquet"},
		},
	}

	opts := interfaces.RunOptions{HorizonPeriods: 2, ApplyWaterfallToActuals: true}
	_, err := driver.RunSimulation(context.Background(), testDeal(), payload, nil, opts)
	require.Error(t, err)

	var extErr *models.ExternalFailureError
	require.ErrorAs(t, err, &extErr)
}

func TestRunSimulation_MLConfigWithoutURIFallsBack(t *testing.T) {
	provider := &mockMLProvider{}
	driver := newTestDriver(provider)

	payload := map[string]any{
		"ml_config": map[string]any{"enabled": true},
	}

	opts := interfaces.RunOptions{HorizonPeriods: 1, ApplyWaterfallToActuals: true}
	result, err := driver.RunSimulation(context.Background(), testDeal(), payload, nil, opts)
	require.NoError(t, err)

	assert.Equal(t, 0, provider.calls)
	last := result.Report.Rows[len(result.Report.Rows)-1]
	assert.Equal(t, "RuleBased", columnValue(t, result.Report, last, "Var.ModelSource"))
}

func TestRunSimulation_ContextCancellation(t *testing.T) {
	driver := newTestDriver(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := interfaces.RunOptions{HorizonPeriods: 12, ApplyWaterfallToActuals: true}
	_, err := driver.RunSimulation(ctx, testDeal(), nil, nil, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunSimulation_DefaultHorizon(t *testing.T) {
	driver := newTestDriver(nil)

	result, err := driver.RunSimulation(context.Background(), testDeal(), nil, nil, interfaces.RunOptions{ApplyWaterfallToActuals: true})
	require.NoError(t, err)
	assert.Equal(t, 60, result.PeriodsRun)
}

// columnValue extracts a named column from a report row.
func columnValue(t *testing.T, table *models.ReportTable, row []any, column string) any {
	t.Helper()
	for i, col := range table.Columns {
		if col == column {
			return row[i]
		}
	}
	t.Fatalf("column %s not found in %v", column, table.Columns)
	return nil
}
