package rules

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/halewood/strata/internal/common"
	"github.com/halewood/strata/internal/interfaces"
	"github.com/halewood/strata/internal/models"
)

// Compile-time interface check
var _ interfaces.RuleEngine = (*Engine)(nil)

// Engine evaluates rule expressions against deal state. It holds no
// per-deal state and is safe to share across concurrent simulations.
type Engine struct {
	logger *common.Logger
}

// NewEngine creates a new rule engine
func NewEngine(logger *common.Logger) *Engine {
	return &Engine{logger: logger}
}

// Equality between numbers tolerates float rounding; rules never get to
// observe exact-bit float comparison.
const equalityEpsilon = 1e-9

// SQL-style tokens accepted in rule strings and normalized before parsing.
var (
	reAnd   = regexp.MustCompile(`\bAND\b`)
	reOr    = regexp.MustCompile(`\bOR\b`)
	reNot   = regexp.MustCompile(`\bNOT\b`)
	reTrue  = regexp.MustCompile(`\bTRUE\b`)
	reFalse = regexp.MustCompile(`\bFALSE\b`)
)

func normalize(expr string) string {
	expr = strings.ReplaceAll(expr, "<>", "!=")
	expr = reAnd.ReplaceAllString(expr, "and")
	expr = reOr.ReplaceAllString(expr, "or")
	expr = reNot.ReplaceAllString(expr, "not")
	expr = reTrue.ReplaceAllString(expr, "true")
	expr = reFalse.ReplaceAllString(expr, "false")
	return expr
}

// Evaluate parses and interprets an expression against the state. An empty
// or blank expression evaluates to 0.0. Returns float64, bool, or string.
func (e *Engine) Evaluate(expr string, st *models.DealState) (any, error) {
	v, err := e.evaluate(expr, st)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// EvaluateNumber evaluates and coerces the result to a float64.
func (e *Engine) EvaluateNumber(expr string, st *models.DealState) (float64, error) {
	v, err := e.evaluate(expr, st)
	if err != nil {
		return 0, err
	}
	f, err := v.AsNumber()
	if err != nil {
		return 0, err
	}
	return f, nil
}

// EvaluateCondition returns the truthiness of an expression. The literal
// strings "true" and "false" (case-insensitive) short-circuit without
// touching the parser.
func (e *Engine) EvaluateCondition(expr string, st *models.DealState) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	v, err := e.evaluate(expr, st)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

func (e *Engine) evaluate(expr string, st *models.DealState) (Value, error) {
	if strings.TrimSpace(expr) == "" {
		return Number(0), nil
	}

	node, err := parse(normalize(expr))
	if err != nil {
		return Value{}, models.NewCalculationError("%v", err)
	}

	v, err := evalNode(node, &stateContext{st: st})
	if err != nil {
		var evalErr *models.EvaluationError
		if errors.As(err, &evalErr) {
			return Value{}, err
		}
		return Value{}, models.NewCalculationError("%v", err)
	}
	return v, nil
}

func evalNode(node exprNode, ctx *stateContext) (Value, error) {
	switch n := node.(type) {
	case numberNode:
		return Number(float64(n)), nil
	case stringNode:
		return Text(string(n)), nil
	case boolNode:
		return Bool(bool(n)), nil
	case pathNode:
		return ctx.resolve(n)
	case callNode:
		return evalCall(n, ctx)
	case unaryNode:
		return evalUnary(n, ctx)
	case binaryNode:
		return evalBinary(n, ctx)
	}
	return Value{}, models.NewCalculationError("unsupported expression node %T", node)
}

func evalUnary(n unaryNode, ctx *stateContext) (Value, error) {
	operand, err := evalNode(n.operand, ctx)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case tokNot:
		return Bool(!operand.Truthy()), nil
	case tokMinus:
		f, err := operand.AsNumber()
		if err != nil {
			return Value{}, err
		}
		return Number(-f), nil
	case tokPlus:
		f, err := operand.AsNumber()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	}
	return Value{}, models.NewCalculationError("unsupported unary operator")
}

func evalBinary(n binaryNode, ctx *stateContext) (Value, error) {
	// and/or short-circuit on truthiness
	if n.op == tokAnd || n.op == tokOr {
		left, err := evalNode(n.left, ctx)
		if err != nil {
			return Value{}, err
		}
		if n.op == tokAnd && !left.Truthy() {
			return Bool(false), nil
		}
		if n.op == tokOr && left.Truthy() {
			return Bool(true), nil
		}
		right, err := evalNode(n.right, ctx)
		if err != nil {
			return Value{}, err
		}
		return Bool(right.Truthy()), nil
	}

	left, err := evalNode(n.left, ctx)
	if err != nil {
		return Value{}, err
	}
	right, err := evalNode(n.right, ctx)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case tokEQ:
		return Bool(valuesEqual(left, right)), nil
	case tokNE:
		return Bool(!valuesEqual(left, right)), nil
	case tokLT, tokLE, tokGT, tokGE:
		return compareOrdered(n.op, left, right)
	}

	// Arithmetic
	lf, err := left.AsNumber()
	if err != nil {
		return Value{}, err
	}
	rf, err := right.AsNumber()
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case tokPlus:
		return Number(lf + rf), nil
	case tokMinus:
		return Number(lf - rf), nil
	case tokStar:
		return Number(lf * rf), nil
	case tokSlash:
		if rf == 0 {
			return Value{}, models.NewCalculationError("division by zero")
		}
		return Number(lf / rf), nil
	}
	return Value{}, models.NewCalculationError("unsupported binary operator")
}

func valuesEqual(a, b Value) bool {
	if a.Kind() == KindText || b.Kind() == KindText {
		return a.Kind() == b.Kind() && a.text == b.text
	}
	// Numbers and bools compare numerically so 1 == true holds
	af, _ := a.AsNumber()
	bf, _ := b.AsNumber()
	return math.Abs(af-bf) <= equalityEpsilon
}

func compareOrdered(op tokenType, a, b Value) (Value, error) {
	if a.Kind() == KindText && b.Kind() == KindText {
		cmp := strings.Compare(a.text, b.text)
		return orderedResult(op, float64(cmp), 0), nil
	}
	af, err := a.AsNumber()
	if err != nil {
		return Value{}, err
	}
	bf, err := b.AsNumber()
	if err != nil {
		return Value{}, err
	}
	return orderedResult(op, af, bf), nil
}

func orderedResult(op tokenType, a, b float64) Value {
	switch op {
	case tokLT:
		return Bool(a < b)
	case tokLE:
		return Bool(a <= b)
	case tokGT:
		return Bool(a > b)
	default:
		return Bool(a >= b)
	}
}

func evalCall(n callNode, ctx *stateContext) (Value, error) {
	args := make([]float64, 0, len(n.args))
	for _, argNode := range n.args {
		v, err := evalNode(argNode, ctx)
		if err != nil {
			return Value{}, err
		}
		f, err := v.AsNumber()
		if err != nil {
			return Value{}, err
		}
		args = append(args, f)
	}

	switch n.name {
	case "MIN":
		if len(args) == 0 {
			return Value{}, models.NewCalculationError("MIN requires at least one argument")
		}
		m := args[0]
		for _, f := range args[1:] {
			m = math.Min(m, f)
		}
		return Number(m), nil
	case "MAX":
		if len(args) == 0 {
			return Value{}, models.NewCalculationError("MAX requires at least one argument")
		}
		m := args[0]
		for _, f := range args[1:] {
			m = math.Max(m, f)
		}
		return Number(m), nil
	case "ABS":
		if len(args) != 1 {
			return Value{}, models.NewCalculationError("ABS requires exactly one argument")
		}
		return Number(math.Abs(args[0])), nil
	case "ROUND":
		switch len(args) {
		case 1:
			return Number(math.Round(args[0])), nil
		case 2:
			scale := math.Pow(10, math.Trunc(args[1]))
			return Number(math.Round(args[0]*scale) / scale), nil
		}
		return Value{}, models.NewCalculationError("ROUND requires one or two arguments")
	case "SUM":
		total := 0.0
		for _, f := range args {
			total += f
		}
		return Number(total), nil
	case "FLOOR":
		if len(args) != 1 {
			return Value{}, models.NewCalculationError("FLOOR requires exactly one argument")
		}
		return Number(math.Floor(args[0])), nil
	case "CEIL":
		if len(args) != 1 {
			return Value{}, models.NewCalculationError("CEIL requires exactly one argument")
		}
		return Number(math.Ceil(args[0])), nil
	}
	return Value{}, models.NewCalculationError("unknown function %s", n.name)
}
