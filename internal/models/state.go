package models

// Numeric tolerances. Cash math runs in float64; these absorb rounding
// without masking genuine rule inconsistencies.
const (
	WithdrawTolerance       = 1e-5 // a bucket may not drop below -WithdrawTolerance
	PaymentEpsilon          = 1e-6 // step payments below this are not emitted
	ShortfallThreshold      = 0.01 // shortfalls below this are not ledgered
	ReconciliationTolerance = 1.0  // model-vs-tape bond balance mismatch threshold
)

// LedgerCumulativeLoss is seeded at 0 on every new DealState and only ever
// increases.
const LedgerCumulativeLoss = "CumulativeLoss"

// BondState holds the mutable balances of one bond.
type BondState struct {
	OriginalBalance   float64
	CurrentBalance    float64
	DeferredBalance   float64
	InterestShortfall float64
}

// Factor returns current/original balance, 0 when original is 0.
func (b *BondState) Factor() float64 {
	if b.OriginalBalance == 0 {
		return 0
	}
	return b.CurrentBalance / b.OriginalBalance
}

// Snapshot is an immutable record of deal state at the close of one period.
// All maps are independent copies.
type Snapshot struct {
	Date         string // ISO date
	Period       int
	Funds        map[string]float64
	Ledgers      map[string]float64
	BondBalances map[string]float64
	Variables    map[string]any
	Flags        map[string]bool
}

// DealState carries the mutable registers of a running deal. A DealState is
// single-threaded: it is mutated only by the simulation driver and the
// waterfall runner, never shared across goroutines.
type DealState struct {
	Def          *DealDefinition
	PeriodIndex  int
	CashBalances map[string]float64 // one namespace for funds + accounts
	Ledgers      map[string]float64
	Bonds        map[string]*BondState
	Variables    map[string]any // number | bool | string
	Flags        map[string]bool
	Collateral   map[string]any
	History      []Snapshot
}

// NewDealState seeds mutable state from a frozen definition: every fund and
// account becomes a zero cash bucket, every bond a BondState at original
// balance, and the CumulativeLoss ledger starts at 0.
func NewDealState(def *DealDefinition) *DealState {
	st := &DealState{
		Def:          def,
		CashBalances: make(map[string]float64),
		Ledgers:      map[string]float64{LedgerCumulativeLoss: 0},
		Bonds:        make(map[string]*BondState),
		Variables:    make(map[string]any),
		Flags:        make(map[string]bool),
		Collateral:   make(map[string]any),
	}

	for id := range def.Funds {
		st.CashBalances[id] = 0
	}
	for id := range def.Accounts {
		st.CashBalances[id] = 0
	}
	for id, b := range def.Bonds {
		st.Bonds[id] = &BondState{
			OriginalBalance: b.OriginalBalance,
			CurrentBalance:  b.OriginalBalance,
		}
	}
	for k, v := range def.Collateral {
		st.Collateral[k] = v
	}

	return st
}

// Deposit adds a non-negative amount to a known cash bucket.
func (s *DealState) Deposit(bucketID string, amount float64) error {
	if amount < 0 {
		return NewInvariantViolation("deposit of negative amount %.6f into %s", amount, bucketID)
	}
	if _, ok := s.CashBalances[bucketID]; !ok {
		return NewInvariantViolation("deposit into unknown cash bucket %s", bucketID)
	}
	s.CashBalances[bucketID] += amount
	return nil
}

// Withdraw removes an amount from a bucket, refusing to drive it negative
// beyond the rounding tolerance.
func (s *DealState) Withdraw(bucketID string, amount float64) error {
	bal, ok := s.CashBalances[bucketID]
	if !ok {
		return NewInvariantViolation("withdraw from unknown cash bucket %s", bucketID)
	}
	if bal-amount < -WithdrawTolerance {
		return NewInvariantViolation("withdraw of %.6f would overdraw bucket %s (balance %.6f)", amount, bucketID, bal)
	}
	s.CashBalances[bucketID] = bal - amount
	return nil
}

// Transfer moves an amount between buckets, withdraw+deposit atomically.
func (s *DealState) Transfer(from, to string, amount float64) error {
	if _, ok := s.CashBalances[to]; !ok {
		return NewInvariantViolation("transfer into unknown cash bucket %s", to)
	}
	if err := s.Withdraw(from, amount); err != nil {
		return err
	}
	return s.Deposit(to, amount)
}

// PayPrincipal pays down a bond from a source bucket. The amount is capped
// at the bond's remaining balance; the capped amount is withdrawn and the
// bond balance reduced, never below 0. A no-op when the bond is already
// retired or amount is not positive.
func (s *DealState) PayPrincipal(bondID string, amount float64, sourceBucket string) error {
	bond, ok := s.Bonds[bondID]
	if !ok {
		return NewInvariantViolation("principal payment to unknown bond %s", bondID)
	}
	if amount <= 0 || bond.CurrentBalance <= 0 {
		return nil
	}

	paid := amount
	if paid > bond.CurrentBalance {
		paid = bond.CurrentBalance
	}
	if err := s.Withdraw(sourceBucket, paid); err != nil {
		return err
	}

	bond.CurrentBalance -= paid
	if bond.CurrentBalance < 0 {
		bond.CurrentBalance = 0
	}
	return nil
}

// SetVariable stores a deal variable (number, bool, or string).
func (s *DealState) SetVariable(name string, value any) {
	s.Variables[name] = value
}

// SetLedger stores a ledger value.
func (s *DealState) SetLedger(id string, value float64) {
	s.Ledgers[id] = value
}

// AddToLedger increments a ledger, creating it at 0 when absent.
func (s *DealState) AddToLedger(id string, delta float64) {
	s.Ledgers[id] += delta
}

// VariableNumber returns the variable coerced to a float64, 0 when the
// variable is missing or not numeric.
func (s *DealState) VariableNumber(name string) float64 {
	v, ok := s.Variables[name]
	if !ok {
		return 0
	}
	f, ok := CoerceFloat(v)
	if !ok {
		return 0
	}
	return f
}

// CollateralNumber returns a collateral attribute coerced to a float64,
// 0 when missing or non-numeric.
func (s *DealState) CollateralNumber(key string) float64 {
	v, ok := s.Collateral[key]
	if !ok {
		return 0
	}
	f, ok := CoerceFloat(v)
	if !ok {
		return 0
	}
	return f
}

// TakeSnapshot increments the period index and appends an immutable
// Snapshot with independent copies of every register.
func (s *DealState) TakeSnapshot(date string) {
	s.PeriodIndex++
	snap := Snapshot{
		Date:         date,
		Period:       s.PeriodIndex,
		Funds:        make(map[string]float64, len(s.CashBalances)),
		Ledgers:      make(map[string]float64, len(s.Ledgers)),
		BondBalances: make(map[string]float64, len(s.Bonds)),
		Variables:    make(map[string]any, len(s.Variables)),
		Flags:        make(map[string]bool, len(s.Flags)),
	}
	for k, v := range s.CashBalances {
		snap.Funds[k] = v
	}
	for k, v := range s.Ledgers {
		snap.Ledgers[k] = v
	}
	for k, b := range s.Bonds {
		snap.BondBalances[k] = b.CurrentBalance
	}
	for k, v := range s.Variables {
		snap.Variables[k] = v
	}
	for k, v := range s.Flags {
		snap.Flags[k] = v
	}

	s.History = append(s.History, snap)
}

// CoerceFloat converts the numeric types that reach deal state through
// JSON decoding and tape ingestion into a float64.
func CoerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
