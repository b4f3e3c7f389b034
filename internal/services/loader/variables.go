package loader

import (
	"regexp"
	"sort"

	"github.com/halewood/strata/internal/models"
)

// orderVariables produces a deterministic evaluation order for the
// variables mapping. The spec decodes to an unordered map, so declaration
// order is not recoverable; instead names are sorted and then dependency-
// ordered, so a variable whose rule references another variable evaluates
// after it. Variables in a reference cycle keep sorted order and observe
// the previous period's value, which run-period semantics allow.
func orderVariables(raw map[string]string) []models.VariableDef {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	// deps[a] holds the variables a's rule references (excluding itself)
	deps := make(map[string]map[string]bool, len(names))
	for _, name := range names {
		deps[name] = map[string]bool{}
	}
	for _, name := range names {
		rule := raw[name]
		for _, other := range names {
			if other == name {
				continue
			}
			if referencesVariable(rule, other) {
				deps[name][other] = true
			}
		}
	}

	// Kahn's algorithm, stable over the sorted name list
	var ordered []models.VariableDef
	placed := make(map[string]bool, len(names))
	for len(ordered) < len(names) {
		progress := false
		for _, name := range names {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range deps[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				ordered = append(ordered, models.VariableDef{Name: name, Rule: raw[name]})
				placed[name] = true
				progress = true
			}
		}
		if !progress {
			// Cycle: emit the remainder in sorted order
			for _, name := range names {
				if !placed[name] {
					ordered = append(ordered, models.VariableDef{Name: name, Rule: raw[name]})
					placed[name] = true
				}
			}
		}
	}

	return ordered
}

// referencesVariable reports whether rule references name as a variable:
// as a bare identifier or as variables.<name>. An occurrence that is the
// attribute of another namespace (funds.X, accounts.X, ledgers.X,
// collateral.X) is a different object that happens to share the name.
func referencesVariable(rule, name string) bool {
	q := regexp.QuoteMeta(name)
	if regexp.MustCompile(`(^|[^.\w])` + q + `\b`).MatchString(rule) {
		return true
	}
	return regexp.MustCompile(`\bvariables\.` + q + `\b`).MatchString(rule)
}
