// Package waterfall advances deal state one period at a time: tests,
// variables, the interest and principal waterfalls, and loss allocation,
// in strict order.
package waterfall

import (
	"fmt"
	"strings"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
)

// Compile-time interface check
var _ interfaces.WaterfallRunner = (*Runner)(nil)

// Runner executes the per-period orchestration. It holds only its
// collaborators, so one Runner serves any number of sequential runs.
type Runner struct {
	engine interfaces.RuleEngine
	logger *common.Logger
}

// NewRunner creates a new waterfall runner
func NewRunner(engine interfaces.RuleEngine, logger *common.Logger) *Runner {
	return &Runner{engine: engine, logger: logger}
}

// RunPeriod runs one full period against the state. Evaluation errors in
// tests, variables, conditions, or amount rules are fatal for the period
// and bubble out to the driver.
func (r *Runner) RunPeriod(st *models.DealState) error {
	if err := r.runTests(st); err != nil {
		return err
	}
	if err := r.computeVariables(st); err != nil {
		return err
	}
	if err := r.runWaterfall(st, models.WaterfallInterest); err != nil {
		return err
	}
	if err := r.runWaterfall(st, models.WaterfallPrincipal); err != nil {
		return err
	}
	r.allocateLosses(st)
	return nil
}

// EvaluatePeriod runs only tests and variables. Used when replaying
// historical actuals without routing cash through the waterfalls.
func (r *Runner) EvaluatePeriod(st *models.DealState) error {
	if err := r.runTests(st); err != nil {
		return err
	}
	return r.computeVariables(st)
}

// runTests evaluates every test in declaration order, records the failed
// flag, and applies failure effects.
func (r *Runner) runTests(st *models.DealState) error {
	for _, test := range st.Def.Tests {
		value, err := r.engine.EvaluateNumber(test.ValueRule, st)
		if err != nil {
			return fmt.Errorf("test %s value rule: %w", test.ID, err)
		}
		threshold, err := r.engine.EvaluateNumber(test.ThresholdRule, st)
		if err != nil {
			return fmt.Errorf("test %s threshold rule: %w", test.ID, err)
		}

		passed := test.PassIf.Compare(value, threshold)
		st.Flags[test.ID] = !passed

		if !passed {
			r.logger.Debug().
				Str("test", test.ID).
				Float64("value", value).
				Float64("threshold", threshold).
				Msg("Test failed")
			for _, effect := range test.Effects {
				if effect.SetFlag != "" {
					st.Flags[effect.SetFlag] = true
				}
			}
		}
	}
	return nil
}

// computeVariables evaluates every variable definition in loader order.
// A variable that references a not-yet-computed variable observes its
// previous-period value through the state.
func (r *Runner) computeVariables(st *models.DealState) error {
	for _, v := range st.Def.Variables {
		value, err := r.engine.Evaluate(v.Rule, st)
		if err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		st.SetVariable(v.Name, value)
	}
	return nil
}

func (r *Runner) runWaterfall(st *models.DealState, name string) error {
	wf := st.Def.Waterfall(name)
	if wf == nil {
		return nil
	}
	for i, step := range wf.Steps {
		if err := r.executeStep(st, name, i, step); err != nil {
			return err
		}
	}
	return nil
}

// executeStep runs one waterfall step: gate on the condition, compute the
// target amount, cap at available cash, dispatch, and ledger any shortfall.
func (r *Runner) executeStep(st *models.DealState, waterfall string, index int, step models.WaterfallStep) error {
	ok, err := r.engine.EvaluateCondition(step.Condition, st)
	if err != nil {
		return fmt.Errorf("%s step %d condition: %w", waterfall, index, err)
	}
	if !ok {
		return nil
	}

	available := st.CashBalances[step.FromFund]

	var target float64
	switch strings.ToUpper(strings.TrimSpace(step.AmountRule)) {
	case "ALL", "REMAINING":
		target = available
	default:
		target, err = r.engine.EvaluateNumber(step.AmountRule, st)
		if err != nil {
			return fmt.Errorf("%s step %d amount rule: %w", waterfall, index, err)
		}
	}
	if target < 0 {
		target = 0
	}

	// The min cap is what keeps rule inconsistencies from overdrawing a
	// bucket; never remove it.
	payment := target
	if payment > available {
		payment = available
	}

	if payment > models.PaymentEpsilon {
		switch step.Action {
		case models.ActionPayBondInterest:
			if err := st.Withdraw(step.FromFund, payment); err != nil {
				return err
			}
		case models.ActionPayBondPrincipal:
			if err := st.PayPrincipal(step.Group, payment, step.FromFund); err != nil {
				return err
			}
		case models.ActionTransferFund:
			if err := st.Transfer(step.FromFund, step.To, payment); err != nil {
				return err
			}
		case models.ActionPayFee:
			if err := st.Withdraw(step.FromFund, payment); err != nil {
				return err
			}
		}
	}

	if shortfall := target - payment; shortfall > models.ShortfallThreshold && step.UnpaidLedgerID != "" {
		st.AddToLedger(step.UnpaidLedgerID, shortfall)
	}

	return nil
}

// allocateLosses writes the period's realized loss down the subordination
// stack and accumulates it into the CumulativeLoss ledger.
func (r *Runner) allocateLosses(st *models.DealState) {
	loss := st.VariableNumber("RealizedLoss")
	if loss <= 0 {
		return
	}

	remaining := loss
	for _, bondID := range st.Def.WriteDownOrder {
		if remaining <= 0 {
			break
		}
		bond, ok := st.Bonds[bondID]
		if !ok {
			continue
		}
		writeDown := remaining
		if writeDown > bond.CurrentBalance {
			writeDown = bond.CurrentBalance
		}
		bond.CurrentBalance -= writeDown
		remaining -= writeDown
	}

	st.AddToLedger(models.LedgerCumulativeLoss, loss)
}
