package loader

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/halewood/strata/internal/models"
)

// maxEnvelopeDepth bounds unwrapping of nested {deal_id, data: {...}}
// collateral envelopes.
const maxEnvelopeDepth = 5

// NormalizeCollateral unwraps delivery envelopes and aggregates loan-level
// payloads into pool-level attributes. The returned map never aliases the
// input. Exposed so the simulation driver can normalize collateral payloads
// delivered separately from the deal spec.
func NormalizeCollateral(raw map[string]any) map[string]any {
	out := unwrapEnvelope(raw)
	aggregateLoans(out)
	return out
}

// unwrapEnvelope peels {deal_id, data: {...pool...}} wrappers, up to
// maxEnvelopeDepth levels, preserving the outermost deal_id.
func unwrapEnvelope(raw map[string]any) map[string]any {
	current := raw
	var dealID any
	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		data, ok := current["data"].(map[string]any)
		if !ok {
			break
		}
		if id, present := current["deal_id"]; present && dealID == nil {
			dealID = id
		}
		current = data
	}

	out := make(map[string]any, len(current)+1)
	for k, v := range current {
		out[k] = v
	}
	if dealID != nil {
		if _, present := out["deal_id"]; !present {
			out["deal_id"] = dealID
		}
	}
	return out
}

// aggregateLoans derives pool-level aggregates from a loans list,
// overwriting any provided values: balances sum, wac and wam are weighted
// by current balance.
func aggregateLoans(pool map[string]any) {
	loans, ok := pool["loans"].([]any)
	if !ok || len(loans) == 0 {
		return
	}

	var originalTotal, currentTotal float64
	rates := make([]float64, 0, len(loans))
	terms := make([]float64, 0, len(loans))
	weights := make([]float64, 0, len(loans))

	for _, loanRaw := range loans {
		loan, ok := loanRaw.(map[string]any)
		if !ok {
			continue
		}
		original, _ := floatField(loan, "original_balance")
		current, hasCurrent := floatField(loan, "current_balance")
		if !hasCurrent {
			current = original
		}
		rate, _ := floatField(loan, "note_rate")
		term, _ := floatField(loan, "remaining_term_months")

		originalTotal += original
		currentTotal += current
		rates = append(rates, rate)
		terms = append(terms, term)
		weights = append(weights, current)
	}

	pool["original_balance"] = originalTotal
	pool["current_balance"] = currentTotal
	if currentTotal > 0 {
		pool["wac"] = stat.Mean(rates, weights)
		pool["wam"] = math.Round(stat.Mean(terms, weights))
	} else {
		pool["wac"] = 0.0
		pool["wam"] = 0.0
	}
}

// PoolFromCollateral reads the projection inputs out of a collateral map.
func PoolFromCollateral(collateral map[string]any) (balance, wac float64, wam int) {
	if v, ok := collateral["current_balance"]; ok {
		if f, ok := models.CoerceFloat(v); ok {
			balance = f
		}
	}
	if v, ok := collateral["wac"]; ok {
		if f, ok := models.CoerceFloat(v); ok {
			wac = f
		}
	}
	if v, ok := collateral["wam"]; ok {
		if f, ok := models.CoerceFloat(v); ok {
			wam = int(f)
		}
	}
	return balance, wac, wam
}
