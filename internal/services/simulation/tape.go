// Package simulation drives deal runs: it replays servicer actuals,
// projects remaining periods, reconciles against the tape, and reports.
package simulation

import (
	"sort"
	"strconv"
	"strings"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/models"
)

// columnAliases maps servicer column-name variants onto canonical names.
var columnAliases = map[string]string{
	"BondID":        "BondId",
	"LoanID":        "LoanId",
	"EndingBalance": "EndBalance",
	"Prepayments":   "Prepayment",
	"Recovery":      "Recoveries",
}

// flowColumns are summed when aggregating rows within a period.
var flowColumns = []string{
	"InterestCollected",
	"PrincipalCollected",
	"Prepayment",
	"ScheduledPrincipal",
	"ScheduledInterest",
	"RealizedLoss",
	"Recoveries",
	"ServicerAdvances",
	"Defaults",
}

// lastValueColumns carry rates and balances; the last observed value in a
// period wins.
var lastValueColumns = []string{
	"Delinq30",
	"Delinq60",
	"Delinq90Plus",
	"Delinq60Plus",
	"CPR",
	"CDR",
	"Severity",
	"EndBalance",
}

// periodActuals is one period of the tape after alias normalization,
// loan-level summation, and pool-level grouping.
type periodActuals struct {
	period        int
	flows         map[string]float64
	last          map[string]float64
	poolStatus    string
	hasPoolStatus bool
	hasEndBalance bool
	endBalance    float64
}

// aggregateTape normalizes raw tape rows into per-period actuals plus
// bond balance observations keyed by period. Rows with a non-numeric
// Period are dropped with a warning.
func aggregateTape(rows []models.TapeRow, logger *common.Logger) ([]periodActuals, map[int]map[string]float64) {
	byPeriod := map[int]*periodActuals{}
	bondBalances := map[int]map[string]float64{}

	for i, raw := range rows {
		row := normalizeRow(raw)

		period, ok := cellInt(row["Period"])
		if !ok {
			logger.Warn().Int("row", i).Msg("Dropping tape row with non-numeric period")
			continue
		}

		// Bond-level observation rows
		if bondID, ok := cellString(row["BondId"]); ok && bondID != "" {
			if bal, ok := cellFloat(row["BondBalance"]); ok {
				if bondBalances[period] == nil {
					bondBalances[period] = map[string]float64{}
				}
				bondBalances[period][bondID] = bal
			}
			continue
		}

		if _, ok := row["PrincipalCollected"]; !ok {
			sched, _ := cellFloat(row["ScheduledPrincipal"])
			prepay, _ := cellFloat(row["Prepayment"])
			row["PrincipalCollected"] = sched + prepay
		}

		pa := byPeriod[period]
		if pa == nil {
			pa = &periodActuals{
				period: period,
				flows:  map[string]float64{},
				last:   map[string]float64{},
			}
			byPeriod[period] = pa
		}

		loanLevel := false
		if loanID, ok := cellString(row["LoanId"]); ok && loanID != "" {
			loanLevel = true
		}

		for _, col := range flowColumns {
			if f, ok := cellFloat(row[col]); ok {
				pa.flows[col] += f
			}
		}

		if !loanLevel {
			for _, col := range lastValueColumns {
				if f, ok := cellFloat(row[col]); ok {
					pa.last[col] = f
					if col == "EndBalance" {
						pa.hasEndBalance = true
						pa.endBalance = f
					}
				}
			}
			if status, ok := cellString(row["PoolStatus"]); ok && status != "" {
				pa.poolStatus = status
				pa.hasPoolStatus = true
			}
		}
	}

	actuals := make([]periodActuals, 0, len(byPeriod))
	for _, pa := range byPeriod {
		actuals = append(actuals, *pa)
	}
	sort.Slice(actuals, func(i, j int) bool { return actuals[i].period < actuals[j].period })

	return actuals, bondBalances
}

// normalizeRow applies column aliases without mutating the input row.
func normalizeRow(raw models.TapeRow) models.TapeRow {
	row := make(models.TapeRow, len(raw))
	for k, v := range raw {
		if canonical, ok := columnAliases[k]; ok {
			k = canonical
		}
		row[k] = v
	}
	return row
}

func cellFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if f, ok := models.CoerceFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func cellInt(v any) (int, bool) {
	f, ok := cellFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func cellString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
