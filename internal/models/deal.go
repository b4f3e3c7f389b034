// Package models defines the deal data model for strata
package models

import "fmt"

// CouponType identifies how a bond's coupon is determined.
type CouponType string

const (
	CouponFixed    CouponType = "FIXED"
	CouponFloat    CouponType = "FLOAT"
	CouponWAC      CouponType = "WAC"
	CouponVariable CouponType = "VARIABLE"
)

// ParseCouponType maps a spec coupon kind string to the enum.
func ParseCouponType(s string) (CouponType, error) {
	switch CouponType(s) {
	case CouponFixed, CouponFloat, CouponWAC, CouponVariable:
		return CouponType(s), nil
	}
	return "", fmt.Errorf("unknown coupon kind %q", s)
}

// StepAction identifies what a waterfall step does with its payment.
type StepAction string

const (
	ActionPayBondInterest  StepAction = "PAY_BOND_INTEREST"
	ActionPayBondPrincipal StepAction = "PAY_BOND_PRINCIPAL"
	ActionTransferFund     StepAction = "TRANSFER_FUND"
	ActionPayFee           StepAction = "PAY_FEE"
)

// ParseStepAction maps a spec action string to the enum.
func ParseStepAction(s string) (StepAction, error) {
	switch StepAction(s) {
	case ActionPayBondInterest, ActionPayBondPrincipal, ActionTransferFund, ActionPayFee:
		return StepAction(s), nil
	}
	return "", fmt.Errorf("unknown step action %q", s)
}

// PassIf is the comparison operator applied between a test's computed value
// and its threshold.
type PassIf string

const (
	PassIfValueLT  PassIf = "VALUE_LT_THRESHOLD"
	PassIfValueLEQ PassIf = "VALUE_LEQ_THRESHOLD"
	PassIfValueGT  PassIf = "VALUE_GT_THRESHOLD"
	PassIfValueGEQ PassIf = "VALUE_GEQ_THRESHOLD"
)

// ParsePassIf maps a spec pass_if string to the enum.
func ParsePassIf(s string) (PassIf, error) {
	switch PassIf(s) {
	case PassIfValueLT, PassIfValueLEQ, PassIfValueGT, PassIfValueGEQ:
		return PassIf(s), nil
	}
	return "", fmt.Errorf("unknown pass_if operator %q", s)
}

// Compare applies the operator to a value/threshold pair.
func (p PassIf) Compare(value, threshold float64) bool {
	switch p {
	case PassIfValueLT:
		return value < threshold
	case PassIfValueLEQ:
		return value <= threshold
	case PassIfValueGT:
		return value > threshold
	case PassIfValueGEQ:
		return value >= threshold
	}
	return false
}

// Bond is a debt class of the securitization with specified priority.
type Bond struct {
	ID                string
	Type              string
	OriginalBalance   float64
	Coupon            CouponType
	FixedRate         float64
	VariableCapRef    string // must resolve to a variable name
	InterestPriority  int
	PrincipalPriority int
	InterestRules     map[string]any
}

// Fund is a named cash register for deal inflows and distributions.
type Fund struct {
	ID          string
	Description string
}

// Account is a named cash register distinguished from funds only in the
// spec; at runtime funds and accounts share one cash-bucket namespace.
type Account struct {
	ID   string
	Type string
}

// VariableDef is a named rule expression. Definitions are kept as an
// ordered slice: the loader topologically sorts them so variables that
// reference other variables see current-period values where possible.
type VariableDef struct {
	Name string
	Rule string
}

// TestEffect is a side effect applied when a test fails.
type TestEffect struct {
	SetFlag string
}

// TestSpec is a named trigger evaluated each period.
type TestSpec struct {
	ID            string
	ValueRule     string
	ThresholdRule string
	PassIf        PassIf
	Effects       []TestEffect
}

// WaterfallStep is one ordered payment instruction.
type WaterfallStep struct {
	ID             string
	Action         StepAction
	FromFund       string // must resolve to a fund or account
	To             string // TRANSFER_FUND target
	Group          string // bond id for bond actions
	Condition      string // expression, default "true"
	AmountRule     string // expression or literal "ALL"/"REMAINING"
	UnpaidLedgerID string
}

// Waterfall is an ordered list of payment steps executed each period.
type Waterfall struct {
	Steps []WaterfallStep
}

// CleanupCall configures contractual early termination.
type CleanupCall struct {
	Enabled       bool
	ThresholdRule string // optional; default pool factor <= 0.10
}

// DealOptions holds optional deal features.
type DealOptions struct {
	CleanupCall *CleanupCall
}

// Waterfall names used by the runner.
const (
	WaterfallInterest  = "interest"
	WaterfallPrincipal = "principal"
)

// DealDefinition is the immutable typed deal model produced by the loader.
// It is created once and never mutated; DealState holds all mutable registers.
type DealDefinition struct {
	Meta           map[string]any
	Dates          map[string]any
	Bonds          map[string]*Bond
	BondOrder      []string // bond ids in spec declaration order
	Funds          map[string]*Fund
	Accounts       map[string]*Account
	Variables      []VariableDef
	Tests          []TestSpec
	Collateral     map[string]any
	Waterfalls     map[string]*Waterfall
	WriteDownOrder []string // loss_allocation order, first written down first
	Options        DealOptions
}

// DealID returns the deal identifier from meta.
func (d *DealDefinition) DealID() string {
	if id, ok := d.Meta["deal_id"].(string); ok {
		return id
	}
	return ""
}

// Waterfall returns the named waterfall, or nil when the deal does not
// define it.
func (d *DealDefinition) Waterfall(name string) *Waterfall {
	if d.Waterfalls == nil {
		return nil
	}
	return d.Waterfalls[name]
}

// HasVariable reports whether the deal defines a variable with the name.
func (d *DealDefinition) HasVariable(name string) bool {
	for _, v := range d.Variables {
		if v.Name == name {
			return true
		}
	}
	return false
}
