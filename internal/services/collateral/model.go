// Package collateral projects pool cashflows under CPR/CDR/severity
// assumptions using level-payment amortization.
package collateral

import (
	"math"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
)

// Compile-time interface check
var _ interfaces.CollateralModel = (*Model)(nil)

// Model amortizes a pool period by period. It holds no pool state; each
// call is pure, so one Model is safely shared across concurrent runs.
type Model struct {
	logger *common.Logger
}

// NewModel creates a new collateral cashflow model
func NewModel(logger *common.Logger) *Model {
	return &Model{logger: logger}
}

// GenerateCashflows amortizes the pool over the requested periods.
// Ordering within a period is binding: scheduled amortization, then
// defaults on the start balance, then prepayments on the balance net of
// scheduled principal and defaults. Recoveries are additive to principal
// collections.
func (m *Model) GenerateCashflows(pool interfaces.Pool, periods int, cpr, cdr, severity float64) []models.PeriodCashflow {
	smm := annualToMonthly(cpr)
	mdr := annualToMonthly(cdr)
	monthlyRate := pool.WAC / 12

	balance := pool.Balance
	rows := make([]models.PeriodCashflow, 0, periods)

	for t := 1; t <= periods; t++ {
		if balance <= 0 {
			rows = append(rows, models.PeriodCashflow{Period: t})
			continue
		}

		interest := balance * monthlyRate

		// Remaining term clamps to 1 so the level payment stays finite
		remaining := pool.WAM - t
		if remaining < 1 {
			remaining = 1
		}
		payment := levelPayment(balance, monthlyRate, remaining)
		scheduledPrincipal := payment - interest
		if scheduledPrincipal < 0 {
			scheduledPrincipal = 0
		}
		if scheduledPrincipal > balance {
			scheduledPrincipal = balance
		}

		defaultAmount := balance * mdr
		loss := defaultAmount * severity
		recoveries := defaultAmount - loss

		prepayment := (balance - scheduledPrincipal - defaultAmount) * smm
		if prepayment < 0 {
			prepayment = 0
		}

		endBalance := balance - scheduledPrincipal - defaultAmount - prepayment
		if endBalance < 0 {
			endBalance = 0
		}

		rows = append(rows, models.PeriodCashflow{
			Period:             t,
			BeginBalance:       balance,
			EndBalance:         endBalance,
			InterestCollected:  interest,
			PrincipalCollected: scheduledPrincipal + prepayment + recoveries,
			RealizedLoss:       loss,
			DefaultAmount:      defaultAmount,
			ScheduledInterest:  interest,
			ScheduledPrincipal: scheduledPrincipal,
			Prepayment:         prepayment,
			Recoveries:         recoveries,
		})

		balance = endBalance
	}

	return rows
}

// annualToMonthly converts an annualized rate (CPR or CDR) to its monthly
// equivalent: 1 - (1 - annual)^(1/12). Inputs are clamped to [0, 1].
func annualToMonthly(annual float64) float64 {
	if annual <= 0 {
		return 0
	}
	if annual >= 1 {
		return 1
	}
	return 1 - math.Pow(1-annual, 1.0/12.0)
}

// levelPayment is the standard annuity payment for a balance over n months.
func levelPayment(balance, monthlyRate float64, n int) float64 {
	if monthlyRate == 0 {
		return balance / float64(n)
	}
	return (balance * monthlyRate) / (1 - math.Pow(1+monthlyRate, -float64(n)))
}
