package simulation

import (
	"math"
	"testing"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/models"
)

func approxEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestAggregateTape_PoolLevelRows(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": 2.0, "InterestCollected": 4000.0, "PrincipalCollected": 21000.0, "EndBalance": 930000.0},
		{"Period": 1.0, "InterestCollected": 5000.0, "PrincipalCollected": 20000.0, "EndBalance": 950000.0, "Delinq60Plus": 0.03, "PoolStatus": "PERFORMING"},
	}

	actuals, bondBalances := aggregateTape(rows, common.NewSilentLogger())
	if len(actuals) != 2 {
		t.Fatalf("got %d periods, want 2", len(actuals))
	}
	if len(bondBalances) != 0 {
		t.Errorf("pool rows produced bond balances: %v", bondBalances)
	}

	// Sorted ascending regardless of input order
	if actuals[0].period != 1 || actuals[1].period != 2 {
		t.Fatalf("periods out of order: %d, %d", actuals[0].period, actuals[1].period)
	}

	p1 := actuals[0]
	if p1.flows["InterestCollected"] != 5000 || p1.flows["PrincipalCollected"] != 20000 {
		t.Errorf("period 1 flows = %v", p1.flows)
	}
	if !p1.hasEndBalance || p1.endBalance != 950000 {
		t.Errorf("period 1 end balance = %v, %v", p1.hasEndBalance, p1.endBalance)
	}
	if p1.last["Delinq60Plus"] != 0.03 {
		t.Errorf("period 1 Delinq60Plus = %v", p1.last["Delinq60Plus"])
	}
	if !p1.hasPoolStatus || p1.poolStatus != "PERFORMING" {
		t.Errorf("period 1 pool status = %v, %v", p1.hasPoolStatus, p1.poolStatus)
	}
}

func TestAggregateTape_ColumnAliases(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": 1.0, "InterestCollected": 100.0, "Prepayments": 500.0, "Recovery": 50.0, "EndingBalance": 99000.0, "ScheduledPrincipal": 400.0},
	}

	actuals, _ := aggregateTape(rows, common.NewSilentLogger())
	if len(actuals) != 1 {
		t.Fatalf("got %d periods, want 1", len(actuals))
	}

	pa := actuals[0]
	if pa.flows["Prepayment"] != 500 {
		t.Errorf("Prepayments alias not applied: %v", pa.flows)
	}
	if pa.flows["Recoveries"] != 50 {
		t.Errorf("Recovery alias not applied: %v", pa.flows)
	}
	if !pa.hasEndBalance || pa.endBalance != 99000 {
		t.Errorf("EndingBalance alias not applied: %v", pa.endBalance)
	}
	// PrincipalCollected absent: derived as scheduled + prepayment
	if pa.flows["PrincipalCollected"] != 900 {
		t.Errorf("derived PrincipalCollected = %v, want 900", pa.flows["PrincipalCollected"])
	}
}

func TestAggregateTape_LoanLevelSummation(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": 1.0, "LoanId": "L1", "InterestCollected": 300.0, "PrincipalCollected": 700.0, "EndBalance": 50000.0},
		{"Period": 1.0, "LoanId": "L2", "InterestCollected": 200.0, "PrincipalCollected": 300.0, "EndBalance": 60000.0},
		{"Period": 1.0, "EndBalance": 110000.0, "Delinq60Plus": 0.02},
	}

	actuals, _ := aggregateTape(rows, common.NewSilentLogger())
	if len(actuals) != 1 {
		t.Fatalf("got %d periods, want 1", len(actuals))
	}

	pa := actuals[0]
	if pa.flows["InterestCollected"] != 500 || pa.flows["PrincipalCollected"] != 1000 {
		t.Errorf("loan flows not summed: %v", pa.flows)
	}
	// Loan-level EndBalance is per-loan and must not clobber the pool row's
	if pa.endBalance != 110000 {
		t.Errorf("end balance = %v, want pool-level 110000", pa.endBalance)
	}
	if pa.last["Delinq60Plus"] != 0.02 {
		t.Errorf("pool-level rate lost: %v", pa.last)
	}
}

func TestAggregateTape_BondBalanceRows(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": 1.0, "BondId": "A", "BondBalance": 780000.0},
		{"Period": 1.0, "BondID": "B", "BondBalance": 197500.0},
		{"Period": 2.0, "BondId": "A", "BondBalance": 760000.0},
		{"Period": 1.0, "InterestCollected": 5000.0},
	}

	actuals, bondBalances := aggregateTape(rows, common.NewSilentLogger())

	if len(actuals) != 1 || actuals[0].flows["InterestCollected"] != 5000 {
		t.Errorf("bond rows polluted period flows: %+v", actuals)
	}
	if bondBalances[1]["A"] != 780000 || bondBalances[1]["B"] != 197500 {
		t.Errorf("period 1 bond balances = %v", bondBalances[1])
	}
	if bondBalances[2]["A"] != 760000 {
		t.Errorf("period 2 bond balances = %v", bondBalances[2])
	}
}

func TestAggregateTape_DropsNonNumericPeriods(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": "garbage", "InterestCollected": 999.0},
		{"Period": 1.0, "InterestCollected": 100.0},
		{"InterestCollected": 50.0},
	}

	actuals, _ := aggregateTape(rows, common.NewSilentLogger())
	if len(actuals) != 1 {
		t.Fatalf("got %d periods, want 1", len(actuals))
	}
	if actuals[0].flows["InterestCollected"] != 100 {
		t.Errorf("dropped rows leaked into flows: %v", actuals[0].flows)
	}
}

func TestAggregateTape_StringCells(t *testing.T) {
	// CSV ingestion delivers every cell as a string
	rows := []models.TapeRow{
		{"Period": "1", "InterestCollected": "5000.50", "PrincipalCollected": "20000", "EndBalance": "950000"},
	}

	actuals, _ := aggregateTape(rows, common.NewSilentLogger())
	if len(actuals) != 1 {
		t.Fatalf("got %d periods, want 1", len(actuals))
	}
	pa := actuals[0]
	if !approxEqual(pa.flows["InterestCollected"], 5000.50, 1e-9) {
		t.Errorf("string interest = %v", pa.flows["InterestCollected"])
	}
	if !pa.hasEndBalance || pa.endBalance != 950000 {
		t.Errorf("string end balance = %v", pa.endBalance)
	}
}

func TestAggregateTape_LastValueWins(t *testing.T) {
	rows := []models.TapeRow{
		{"Period": 1.0, "EndBalance": 950000.0},
		{"Period": 1.0, "EndBalance": 940000.0},
	}

	actuals, _ := aggregateTape(rows, common.NewSilentLogger())
	if actuals[0].endBalance != 940000 {
		t.Errorf("end balance = %v, want the later observation", actuals[0].endBalance)
	}
}
