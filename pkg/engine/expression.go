// Package engine evaluates rules against events: a sandboxed expression
// evaluator, the traditional predicate engine, and the router that
// dispatches each (event, rule) pair to the right engine.
package engine

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// Evaluator compiles and runs sandboxed boolean predicates. Compiled
// programs are cached per expression source; the language exposes only
// literals, identifiers, operators, and the safe function whitelist.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates an expression evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// Evaluate runs the expression against the environment and converts the
// result to a boolean by truthiness. Any compile or run failure is
// returned with the expression text in the message.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return truthy(out), nil
}

// Validate compiles the expression without evaluating it and returns the
// compile error, if any.
func (e *Evaluator) Validate(expression string) error {
	if _, err := e.compile(expression); err != nil {
		return fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()
	return program, nil
}

// BuildEnv derives the evaluation environment from an event: the data
// mapping flattened with "_" separators (both the flattened name and the
// original leaf name are bound), top-level event_type and context_key,
// and the safe function whitelist.
func BuildEnv(event models.Event) map[string]any {
	env := SafeFunctions()
	flatten(event.Data, "", env)
	env["event_type"] = event.EventType
	env["context_key"] = event.ContextKey
	return env
}

func flatten(data map[string]any, parent string, into map[string]any) {
	for key, value := range data {
		name := key
		if parent != "" {
			name = parent + "_" + key
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(nested, name, into)
			continue
		}
		into[name] = value
		// Leaf name bound as well for direct access.
		into[key] = value
	}
}

// SafeFunctions returns the fixed whitelist of functions available in
// expressions. Everything outside this set is a compile-time rejection.
func SafeFunctions() map[string]any {
	return map[string]any{
		"abs": func(v any) (float64, error) {
			f, err := toFloat(v)
			if err != nil {
				return 0, err
			}
			return math.Abs(f), nil
		},
		"min": func(vs ...any) (float64, error) { return fold(vs, math.Min) },
		"max": func(vs ...any) (float64, error) { return fold(vs, math.Max) },
		"sum": func(v any) (float64, error) {
			items, ok := v.([]any)
			if !ok {
				return 0, fmt.Errorf("sum expects a list, got %T", v)
			}
			var total float64
			for _, item := range items {
				f, err := toFloat(item)
				if err != nil {
					return 0, err
				}
				total += f
			}
			return total, nil
		},
		"len": func(v any) (int, error) {
			switch t := v.(type) {
			case string:
				return len(t), nil
			case []any:
				return len(t), nil
			case map[string]any:
				return len(t), nil
			default:
				return 0, fmt.Errorf("len expects a string, list, or mapping, got %T", v)
			}
		},
		"round": func(v any) (float64, error) {
			f, err := toFloat(v)
			if err != nil {
				return 0, err
			}
			return math.Round(f), nil
		},
		"int": func(v any) (int64, error) {
			f, err := toFloat(v)
			if err != nil {
				return 0, err
			}
			return int64(f), nil
		},
		"float": toFloat,
		"str": func(v any) string {
			return fmt.Sprintf("%v", v)
		},
		"bool": func(v any) bool {
			return truthy(v)
		},
	}
}

func fold(vs []any, op func(float64, float64) float64) (float64, error) {
	if len(vs) == 0 {
		return 0, fmt.Errorf("expected at least one argument")
	}
	// A single list argument folds over its items.
	if items, ok := vs[0].([]any); ok && len(vs) == 1 {
		vs = items
	}
	acc, err := toFloat(vs[0])
	if err != nil {
		return 0, err
	}
	for _, v := range vs[1:] {
		f, err := toFloat(v)
		if err != nil {
			return 0, err
		}
		acc = op(acc, f)
	}
	return acc, nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to number", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", v)
	}
}

// truthy converts an arbitrary expression result to a boolean: nil,
// zero numbers, empty strings, and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
