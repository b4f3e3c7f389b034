// Package interfaces defines service contracts for strata
package interfaces

import (
	"context"

	"github.com/halewood/strata/internal/models"
)

// DealLoader parses a declarative deal spec into an immutable typed model,
// enforcing syntactic and cross-reference integrity.
type DealLoader interface {
	// Load hydrates and validates a raw spec dictionary. Returns a
	// *models.SchemaViolationError or *models.LogicIntegrityError on failure.
	Load(spec map[string]any) (*models.DealDefinition, error)
}

// RuleEngine evaluates rule expressions against live deal state through a
// restricted namespace. Engines are stateless and safe to share across
// concurrent simulations.
type RuleEngine interface {
	// Evaluate returns the expression value: float64, bool, or string.
	// An empty expression evaluates to 0.0.
	Evaluate(expr string, st *models.DealState) (any, error)

	// EvaluateNumber evaluates and coerces the result to a float64.
	EvaluateNumber(expr string, st *models.DealState) (float64, error)

	// EvaluateCondition returns the truthiness of the expression. Literal
	// "true"/"false" short-circuit without evaluation.
	EvaluateCondition(expr string, st *models.DealState) (bool, error)
}

// Pool describes the collateral aggregates a projection starts from.
type Pool struct {
	Balance float64 // starting balance
	WAC     float64 // weighted-average coupon, annual rate
	WAM     int     // weighted-average maturity, months
}

// CollateralModel projects pool cashflows under CPR/CDR/severity assumptions.
type CollateralModel interface {
	GenerateCashflows(pool Pool, periods int, cpr, cdr, severity float64) []models.PeriodCashflow
}

// WaterfallRunner advances deal state one period at a time.
type WaterfallRunner interface {
	// RunPeriod executes tests, variables, the interest and principal
	// waterfalls, and loss allocation, in that order.
	RunPeriod(st *models.DealState) error

	// EvaluatePeriod runs only tests and variables. Used when replaying
	// historical actuals without routing cash.
	EvaluatePeriod(st *models.DealState) error
}

// MLProviderConfig carries the model selection and rate assumptions passed
// to an external ML cashflow provider.
type MLProviderConfig struct {
	RateScenario    string
	StartRate       float64
	RateSensitivity float64
	BaseCPR         float64
	BaseCDR         float64
	FeatureSource   string
	PrepayModelKey  string
	DefaultModelKey string
	SeverityModel   string
}

// MLRequest is one projection request to an external ML cashflow provider.
type MLRequest struct {
	OriginationURI   string
	PerformanceURI   string
	RatePath         []float64 // monthly short rates, one per remaining period
	Config           MLProviderConfig
	RemainingPeriods int
}

// MLCashflowProvider is an externally supplied projection engine consulted
// when the deal's collateral selects an ML model interface. An empty result
// is a failure.
type MLCashflowProvider interface {
	GenerateCashflows(ctx context.Context, req MLRequest) ([]models.PeriodCashflow, error)
}

// RunOptions configures one simulation run.
type RunOptions struct {
	CPR                     float64
	CDR                     float64
	Severity                float64
	HorizonPeriods          int // 0 means the default of 60
	ApplyWaterfallToActuals bool
}

// DefaultRunOptions returns the spec defaults: 60-period horizon and full
// waterfall execution over historical actuals.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		HorizonPeriods:          60,
		ApplyWaterfallToActuals: true,
	}
}

// SimulationDriver ingests actuals, projects remaining periods, and
// reconciles model output against the servicer tape.
type SimulationDriver interface {
	RunSimulation(ctx context.Context, def *models.DealDefinition, collateral map[string]any, rows []models.TapeRow, opts RunOptions) (*models.RunResult, error)
}
