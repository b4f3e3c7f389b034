// Package report flattens snapshot history into the tabular cashflow tape
// returned by a simulation run.
package report

import (
	"sort"

	"github.com/halewood/strata/internal/models"
)

// Generate builds the report table from snapshot history, one row per
// snapshot in period order. For each bond a derived Prin_Paid column holds
// the balance decrease from the prior period, 0 at the first snapshot.
func Generate(history []models.Snapshot) *models.ReportTable {
	bonds := collectKeys(history, func(s models.Snapshot) map[string]float64 { return s.BondBalances })
	funds := collectKeys(history, func(s models.Snapshot) map[string]float64 { return s.Funds })
	ledgers := collectKeys(history, func(s models.Snapshot) map[string]float64 { return s.Ledgers })
	variables := collectVariableNames(history)

	columns := []string{"Period", "Date"}
	for _, id := range bonds {
		columns = append(columns, "Bond."+id+".Balance", "Bond."+id+".Prin_Paid")
	}
	for _, id := range funds {
		columns = append(columns, "Fund."+id+".Balance")
	}
	for _, id := range ledgers {
		columns = append(columns, "Ledger."+id)
	}
	for _, name := range variables {
		columns = append(columns, "Var."+name)
	}

	table := &models.ReportTable{Columns: columns}
	for i, snap := range history {
		row := make([]any, 0, len(columns))
		row = append(row, snap.Period, snap.Date)
		for _, id := range bonds {
			balance := snap.BondBalances[id]
			prinPaid := 0.0
			if i > 0 {
				prinPaid = history[i-1].BondBalances[id] - balance
			}
			row = append(row, balance, prinPaid)
		}
		for _, id := range funds {
			row = append(row, snap.Funds[id])
		}
		for _, id := range ledgers {
			row = append(row, snap.Ledgers[id])
		}
		for _, name := range variables {
			v, ok := snap.Variables[name]
			if !ok {
				row = append(row, nil)
				continue
			}
			row = append(row, v)
		}
		table.Rows = append(table.Rows, row)
	}

	return table
}

func collectKeys(history []models.Snapshot, pick func(models.Snapshot) map[string]float64) []string {
	seen := map[string]bool{}
	for _, snap := range history {
		for k := range pick(snap) {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func collectVariableNames(history []models.Snapshot) []string {
	seen := map[string]bool{}
	for _, snap := range history {
		for k := range snap.Variables {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
