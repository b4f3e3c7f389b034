package models

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ReportTable is the canonical cashflow tape returned by a simulation run:
// one row per snapshot, in period order.
type ReportTable struct {
	Columns []string
	Rows    [][]any
}

// WriteCSV encodes the table as CSV. Floats are written with 2 decimal
// places; other values via fmt.
func (t *ReportTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i >= len(row) || row[i] == nil {
				continue
			}
			switch v := row[i].(type) {
			case float64:
				record[i] = fmt.Sprintf("%.2f", v)
			case string:
				record[i] = v
			default:
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReconciliationStatus classifies a model-vs-tape bond balance comparison.
type ReconciliationStatus string

const (
	ReconBalanceMismatch ReconciliationStatus = "BALANCE_MISMATCH"
	ReconUnknownBond     ReconciliationStatus = "UNKNOWN_BOND"
	ReconMissingInTape   ReconciliationStatus = "MISSING_IN_TAPE"
)

// ReconciliationEntry records one bond balance discrepancy between the
// model and the servicer tape. Reconciliation entries are structured
// output, not errors.
type ReconciliationEntry struct {
	Period       int                  `json:"period"`
	BondID       string               `json:"bond_id"`
	ModelBalance float64              `json:"model_balance"`
	TapeBalance  float64              `json:"tape_balance"`
	Delta        float64              `json:"delta"`
	Status       ReconciliationStatus `json:"status"`
}

// RunResult is the structured outcome of one simulation run.
type RunResult struct {
	RunID            string
	Report           *ReportTable
	Reconciliation   []ReconciliationEntry
	PeriodsRun       int
	ActualPeriods    int
	ProjectedPeriods int
	Terminated       bool // cleanup call exercised
}
