package models

// PeriodCashflow is one projected period of pool collections. Recoveries
// flow to principal collections per RMBS convention.
type PeriodCashflow struct {
	Period             int
	BeginBalance       float64
	EndBalance         float64
	InterestCollected  float64
	PrincipalCollected float64
	RealizedLoss       float64
	DefaultAmount      float64
	ScheduledInterest  float64
	ScheduledPrincipal float64
	Prepayment         float64
	Recoveries         float64
	ServicerAdvances   float64
}

// TapeRow is one raw servicer performance tape row, column name to value.
// Values are float64, string, or nil as produced by CSV/JSON ingestion;
// normalization and aggregation happen in the simulation service.
type TapeRow map[string]any
