package loader

import (
	"fmt"
	"sort"

	"github.com/halewood/strata/internal/models"
)

// validateIntegrity cross-checks every reference in the hydrated
// definition. All problems are accumulated and reported together.
func (s *Service) validateIntegrity(def *models.DealDefinition) error {
	var problems []string

	buckets := make(map[string]bool, len(def.Funds)+len(def.Accounts))
	for id := range def.Funds {
		buckets[id] = true
	}
	for id := range def.Accounts {
		if buckets[id] {
			problems = append(problems, fmt.Sprintf("bucket id %q is declared as both a fund and an account", id))
		}
		buckets[id] = true
	}

	variables := make(map[string]bool, len(def.Variables))
	for _, v := range def.Variables {
		variables[v.Name] = true
	}

	for _, id := range sortedBondIDs(def) {
		bond := def.Bonds[id]
		if bond.VariableCapRef != "" && !variables[bond.VariableCapRef] {
			problems = append(problems, fmt.Sprintf("bond %q variable_cap_ref %q does not name a variable", id, bond.VariableCapRef))
		}
	}

	for _, name := range sortedWaterfallNames(def) {
		wf := def.Waterfalls[name]
		for i, step := range wf.Steps {
			where := fmt.Sprintf("waterfall %q step %d", name, i)
			if step.FromFund == "" {
				problems = append(problems, fmt.Sprintf("%s has no from_fund", where))
			} else if !buckets[step.FromFund] {
				problems = append(problems, fmt.Sprintf("%s from_fund %q does not resolve to a fund or account", where, step.FromFund))
			}
			if step.Action == models.ActionTransferFund && !buckets[step.To] {
				problems = append(problems, fmt.Sprintf("%s transfer target %q does not resolve to a fund or account", where, step.To))
			}
			if (step.Action == models.ActionPayBondInterest || step.Action == models.ActionPayBondPrincipal) && step.Group != "" {
				if _, ok := def.Bonds[step.Group]; !ok {
					problems = append(problems, fmt.Sprintf("%s group %q does not name a bond", where, step.Group))
				}
			}
		}
	}

	for _, id := range def.WriteDownOrder {
		if _, ok := def.Bonds[id]; !ok {
			problems = append(problems, fmt.Sprintf("loss_allocation write_down_order entry %q does not name a bond", id))
		}
	}

	problems = append(problems, selfReferentialVariables(def.Variables)...)

	if len(problems) > 0 {
		return &models.LogicIntegrityError{Problems: problems}
	}
	return nil
}

// selfReferentialVariables reports variables whose rule names the variable
// itself, as a bare identifier or through the variables namespace. Deeper
// cycles are legal (they observe the previous period's value). A rule that
// reads another namespace's member of the same name (funds.Reserve inside
// variable Reserve) is not self-reference.
func selfReferentialVariables(vars []models.VariableDef) []string {
	var problems []string
	for _, v := range vars {
		if referencesVariable(v.Rule, v.Name) {
			problems = append(problems, fmt.Sprintf("variable %q references itself", v.Name))
		}
	}
	return problems
}

func sortedBondIDs(def *models.DealDefinition) []string {
	if len(def.BondOrder) == len(def.Bonds) {
		return def.BondOrder
	}
	ids := make([]string, 0, len(def.Bonds))
	for id := range def.Bonds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedWaterfallNames(def *models.DealDefinition) []string {
	names := make([]string, 0, len(def.Waterfalls))
	for name := range def.Waterfalls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
