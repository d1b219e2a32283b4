package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
)

const maxExpressionLen = 512

var calcEnv = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

// calcFuncs exposes math helpers beyond expr's builtins. Arguments are
// coerced to float64 so sqrt(16) works as well as sqrt(16.0).
var calcFuncs = []expr.Option{
	mathFunc("sqrt", 1, func(x []float64) float64 { return math.Sqrt(x[0]) }),
	mathFunc("pow", 2, func(x []float64) float64 { return math.Pow(x[0], x[1]) }),
	mathFunc("sin", 1, func(x []float64) float64 { return math.Sin(x[0]) }),
	mathFunc("cos", 1, func(x []float64) float64 { return math.Cos(x[0]) }),
	mathFunc("tan", 1, func(x []float64) float64 { return math.Tan(x[0]) }),
	mathFunc("log", 1, func(x []float64) float64 { return math.Log10(x[0]) }),
	mathFunc("ln", 1, func(x []float64) float64 { return math.Log(x[0]) }),
	mathFunc("exp", 1, func(x []float64) float64 { return math.Exp(x[0]) }),
}

func mathFunc(name string, arity int, f func([]float64) float64) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		if len(params) != arity {
			return nil, fmt.Errorf("%s expects %d argument(s), got %d", name, arity, len(params))
		}
		xs := make([]float64, arity)
		for i, p := range params {
			x, ok := toFloat(p)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is %T, not a number", name, i+1, p)
			}
			xs[i] = x
		}
		return f(xs), nil
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Calculator evaluates arithmetic expressions.
func Calculator() Tool {
	return Tool{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression. Supports + - * / % ** and sqrt, pow, sin, cos, tan, log, ln, exp, abs, floor, ceil, round, pi, e.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string","description":"Expression to evaluate, e.g. (2+3)*4"}},"required":["expression"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Expression string `json:"expression"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			value, err := Evaluate(in.Expression)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "calculation", Data: map[string]any{
				"expression": in.Expression,
				"result":     value,
			}}, nil
		},
	}
}

// Evaluate computes a numeric expression. Integral results are returned as
// int64 so they serialize without a fractional part.
func Evaluate(expression string) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, errors.New("expression is required")
	}
	if len(expression) > maxExpressionLen {
		return nil, fmt.Errorf("expression longer than %d characters", maxExpressionLen)
	}

	opts := append([]expr.Option{expr.Env(calcEnv)}, calcFuncs...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, calcEnv)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	var f float64
	switch v := out.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return nil, fmt.Errorf("expression produced %T, not a number", out)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errors.New("result is not a finite number")
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}
