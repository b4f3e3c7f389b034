package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/halewood/strata/internal/models"
)

func testHistory() []models.Snapshot {
	return []models.Snapshot{
		{
			Date:         "2026-01-25",
			Period:       1,
			Funds:        map[string]float64{"IAF": 1000},
			Ledgers:      map[string]float64{"CumulativeLoss": 0},
			BondBalances: map[string]float64{"A": 800000, "B": 200000},
			Variables:    map[string]any{"SeniorFee": 500.0},
		},
		{
			Date:         "2026-02-24",
			Period:       2,
			Funds:        map[string]float64{"IAF": 900},
			Ledgers:      map[string]float64{"CumulativeLoss": 2500},
			BondBalances: map[string]float64{"A": 780000, "B": 197500},
			Variables:    map[string]any{"SeniorFee": 500.0, "ModelSource": "Actuals"},
		},
	}
}

func TestGenerate_ColumnsAndRows(t *testing.T) {
	table := Generate(testHistory())

	wantColumns := []string{
		"Period", "Date",
		"Bond.A.Balance", "Bond.A.Prin_Paid",
		"Bond.B.Balance", "Bond.B.Prin_Paid",
		"Fund.IAF.Balance",
		"Ledger.CumulativeLoss",
		"Var.ModelSource", "Var.SeniorFee",
	}
	if len(table.Columns) != len(wantColumns) {
		t.Fatalf("got %d columns %v, want %d", len(table.Columns), table.Columns, len(wantColumns))
	}
	for i, col := range wantColumns {
		if table.Columns[i] != col {
			t.Errorf("column %d = %s, want %s", i, table.Columns[i], col)
		}
	}

	if len(table.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(table.Rows))
	}

	index := func(name string) int {
		for i, col := range table.Columns {
			if col == name {
				return i
			}
		}
		t.Fatalf("column %s not found", name)
		return -1
	}

	// Period stays an integer so the CSV tape carries 1, not 1.00
	if got := table.Rows[0][index("Period")]; got != 1 {
		t.Errorf("period 1 cell = %v (%T), want int 1", got, got)
	}
	// First period: no prior balance, so Prin_Paid is 0
	if got := table.Rows[0][index("Bond.A.Prin_Paid")]; got != 0.0 {
		t.Errorf("period 1 A Prin_Paid = %v, want 0", got)
	}
	// Second period: 800000 - 780000 = 20000
	if got := table.Rows[1][index("Bond.A.Prin_Paid")]; got != 20000.0 {
		t.Errorf("period 2 A Prin_Paid = %v, want 20000", got)
	}
	if got := table.Rows[1][index("Bond.B.Prin_Paid")]; got != 2500.0 {
		t.Errorf("period 2 B Prin_Paid = %v, want 2500", got)
	}
	if got := table.Rows[1][index("Ledger.CumulativeLoss")]; got != 2500.0 {
		t.Errorf("period 2 CumulativeLoss = %v, want 2500", got)
	}
	// Variable absent in period 1 renders as nil, not zero
	if got := table.Rows[0][index("Var.ModelSource")]; got != nil {
		t.Errorf("period 1 ModelSource = %v, want nil", got)
	}
	if got := table.Rows[1][index("Var.ModelSource")]; got != "Actuals" {
		t.Errorf("period 2 ModelSource = %v, want Actuals", got)
	}
}

func TestGenerate_EmptyHistory(t *testing.T) {
	table := Generate(nil)
	if len(table.Rows) != 0 {
		t.Errorf("empty history produced %d rows", len(table.Rows))
	}
	if len(table.Columns) != 2 {
		t.Errorf("empty history columns = %v, want Period and Date only", table.Columns)
	}
}

func TestGenerate_WriteCSV(t *testing.T) {
	table := Generate(testHistory())

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("write csv failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d csv lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Period,Date,Bond.A.Balance") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,2026-01-25") {
		t.Errorf("row 1 period not an integer: %s", lines[1])
	}
	if !strings.HasPrefix(lines[2], "2,2026-02-24") {
		t.Errorf("row 2 period not an integer: %s", lines[2])
	}
	if !strings.Contains(lines[2], "780000.00") {
		t.Errorf("row 2 missing formatted balance: %s", lines[2])
	}
	if !strings.Contains(lines[2], "Actuals") {
		t.Errorf("row 2 missing string variable: %s", lines[2])
	}
}
