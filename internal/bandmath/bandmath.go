// Package bandmath parses the small arithmetic language used by empirical
// indicator formulas, e.g. "2.5 * ((NIR - RED) / (NIR + 6 * RED - 7.5 * BLUE + 1))".
package bandmath

import (
	"fmt"
	"slices"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
)

var parseEnv *cel.Env

func init() {
	var err error
	if parseEnv, err = cel.NewEnv(cel.ClearMacros()); err != nil {
		panic(err)
	}
}

// Op is a binary arithmetic operator.
type Op string

const (
	Add Op = "+"
	Sub Op = "-"
	Mul Op = "*"
	Div Op = "/"
)

var binaryOps = map[string]Op{
	operators.Add:      Add,
	operators.Subtract: Sub,
	operators.Multiply: Mul,
	operators.Divide:   Div,
}

// Node is one node of a parsed expression.
type Node interface {
	String() string
}

type Number struct{ Value float64 }

type Band struct{ Name string }

type Binary struct {
	Op          Op
	Left, Right Node
}

type Negate struct{ Operand Node }

func (n Number) String() string { return fmt.Sprintf("%g", n.Value) }
func (b Band) String() string   { return b.Name }
func (b Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}
func (n Negate) String() string { return fmt.Sprintf("-%s", n.Operand) }

// Parse parses expr and checks that every identifier is one of vars.
func Parse(expr string, vars []string) (Node, error) {
	parsed, iss := parseEnv.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parse expression %q: %w", expr, iss.Err())
	}
	return convert(parsed.NativeRep().Expr(), vars)
}

func convert(e ast.Expr, vars []string) (Node, error) {
	switch e.Kind() {
	case ast.IdentKind:
		name := e.AsIdent()
		if !slices.Contains(vars, name) {
			return nil, fmt.Errorf("unknown band %q (expected one of %v)", name, vars)
		}
		return Band{Name: name}, nil
	case ast.LiteralKind:
		switch v := e.AsLiteral().Value().(type) {
		case int64:
			return Number{Value: float64(v)}, nil
		case uint64:
			return Number{Value: float64(v)}, nil
		case float64:
			return Number{Value: v}, nil
		default:
			return nil, fmt.Errorf("unsupported literal %T", v)
		}
	case ast.CallKind:
		call := e.AsCall()
		args := call.Args()
		if call.IsMemberFunction() {
			return nil, fmt.Errorf("unsupported member call %q", call.FunctionName())
		}
		if call.FunctionName() == operators.Negate && len(args) == 1 {
			operand, err := convert(args[0], vars)
			if err != nil {
				return nil, err
			}
			return Negate{Operand: operand}, nil
		}
		op, ok := binaryOps[call.FunctionName()]
		if !ok || len(args) != 2 {
			return nil, fmt.Errorf("unsupported operator %q", call.FunctionName())
		}
		left, err := convert(args[0], vars)
		if err != nil {
			return nil, err
		}
		right, err := convert(args[1], vars)
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("unsupported expression kind %v", e.Kind())
	}
}

// Bands returns the distinct band names referenced by n in first-use order.
func Bands(n Node) []string {
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case Band:
			if !slices.Contains(out, v.Name) {
				out = append(out, v.Name)
			}
		case Binary:
			walk(v.Left)
			walk(v.Right)
		case Negate:
			walk(v.Operand)
		}
	}
	walk(n)
	return out
}

// Eval evaluates n for a single pixel.
func Eval(n Node, values map[string]float64) (float64, error) {
	switch v := n.(type) {
	case Number:
		return v.Value, nil
	case Band:
		x, ok := values[v.Name]
		if !ok {
			return 0, fmt.Errorf("no value for band %q", v.Name)
		}
		return x, nil
	case Negate:
		x, err := Eval(v.Operand, values)
		return -x, err
	case Binary:
		l, err := Eval(v.Left, values)
		if err != nil {
			return 0, err
		}
		r, err := Eval(v.Right, values)
		if err != nil {
			return 0, err
		}
		switch v.Op {
		case Add:
			return l + r, nil
		case Sub:
			return l - r, nil
		case Mul:
			return l * r, nil
		case Div:
			return l / r, nil
		}
	}
	return 0, fmt.Errorf("unsupported node %T", n)
}
