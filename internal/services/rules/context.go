package rules

import (
	"strings"

	"github.com/halewood/strata/internal/models"
)

// stateContext resolves identifier paths against a DealState. It is the
// only bridge between expressions and deal state; everything it exposes is
// read-only and copied by value at access time.
type stateContext struct {
	st *models.DealState
}

// resolve routes a path to its namespace. Bare identifiers resolve against
// variables first, then cash buckets. Namespaced leaf lookups default to 0
// for unknown names (so funds.XYZ is 0, not an error); a genuinely unknown
// bare name or namespace is an unknown-variable error.
func (c *stateContext) resolve(path []string) (Value, error) {
	if len(path) == 1 {
		return c.resolveBare(path[0])
	}

	ns := path[0]
	switch ns {
	case "funds", "accounts":
		if len(path) != 2 {
			return Value{}, models.NewCalculationError("invalid reference %s", strings.Join(path, "."))
		}
		return Number(c.st.CashBalances[path[1]]), nil

	case "ledgers":
		if len(path) != 2 {
			return Value{}, models.NewCalculationError("invalid reference %s", strings.Join(path, "."))
		}
		return Number(c.st.Ledgers[path[1]]), nil

	case "collateral":
		if len(path) != 2 {
			return Value{}, models.NewCalculationError("invalid reference %s", strings.Join(path, "."))
		}
		raw, ok := c.st.Collateral[path[1]]
		if !ok {
			return Number(0), nil
		}
		if v, ok := FromAny(raw); ok {
			return v, nil
		}
		return Number(0), nil

	case "variables":
		if len(path) != 2 {
			return Value{}, models.NewCalculationError("invalid reference %s", strings.Join(path, "."))
		}
		raw, ok := c.st.Variables[path[1]]
		if !ok {
			return Number(0), nil
		}
		if v, ok := FromAny(raw); ok {
			return v, nil
		}
		return Number(0), nil

	case "bonds":
		if len(path) != 3 {
			return Value{}, models.NewCalculationError("bond reference %s requires an attribute", strings.Join(path, "."))
		}
		return c.resolveBond(path[1], path[2])

	case "tests":
		if len(path) != 3 || path[2] != "failed" {
			return Value{}, models.NewCalculationError("test reference %s must be tests.<id>.failed", strings.Join(path, "."))
		}
		return Bool(c.st.Flags[path[1]]), nil
	}

	return Value{}, models.NewUnknownVariableError(strings.Join(path, "."))
}

func (c *stateContext) resolveBare(name string) (Value, error) {
	if raw, ok := c.st.Variables[name]; ok {
		if v, ok := FromAny(raw); ok {
			return v, nil
		}
		return Number(0), nil
	}
	if bal, ok := c.st.CashBalances[name]; ok {
		return Number(bal), nil
	}
	return Value{}, models.NewUnknownVariableError(name)
}

// resolveBond snapshots a bond's four numbers at evaluation time. Unknown
// bonds behave as a zero-valued wrapper.
func (c *stateContext) resolveBond(bondID, attr string) (Value, error) {
	var original, current, shortfall, factor float64
	if b, ok := c.st.Bonds[bondID]; ok {
		original = b.OriginalBalance
		current = b.CurrentBalance
		shortfall = b.InterestShortfall
		factor = b.Factor()
	}
	switch attr {
	case "balance":
		return Number(current), nil
	case "factor":
		return Number(factor), nil
	case "shortfall":
		return Number(shortfall), nil
	case "original":
		return Number(original), nil
	}
	return Value{}, models.NewCalculationError("unknown bond attribute %q in bonds.%s.%s", attr, bondID, attr)
}
