package expr

import (
	"fmt"
)

// Func is a whitelisted helper a condition may call by name. Arguments are
// already evaluated; a Func can inspect them but never reach back into the
// AST or the caller's Go state beyond what env/args hand it.
type Func func(args []any) (any, error)

// DefaultFuncs is the fixed helper whitelist spec.md names for rule
// conditions: command_contains, file_is_plan, user_says. Callers building a
// workflow engine should start from this set and may add engine-specific
// helpers, but must never expose a Func that can mutate state or perform
// I/O beyond a pure read.
func DefaultFuncs() map[string]Func {
	return map[string]Func{
		"command_contains": func(args []any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("command_contains takes 2 arguments")
			}
			return contains(toString(args[0]), toString(args[1])), nil
		},
		"file_is_plan": func(args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("file_is_plan takes 1 argument")
			}
			return isPlanPath(toString(args[0])), nil
		},
		"user_says": func(args []any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("user_says takes 2 arguments")
			}
			return contains(toString(args[0]), toString(args[1])), nil
		},
	}
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

func isPlanPath(path string) bool {
	lower := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	s := string(lower)
	return contains(s, "plan.md") || contains(s, "/plans/") || contains(s, "plan_")
}

// Env is the namespace an expression evaluates against: spec.md restricts
// this to tool/args/session/phase_action_count/workflow_state, plus
// whatever additional read-only values an engine chooses to expose (e.g.
// artifacts for template rendering, which reuses this evaluator).
type Env map[string]any

// Eval evaluates node against env using the given function whitelist.
// Undefined names and member lookups on non-map values evaluate to nil
// rather than erroring, so a condition referencing an absent optional field
// fails closed to false/empty instead of aborting the whole rule pipeline.
func Eval(node Node, env Env, funcs map[string]Func) (any, error) {
	switch n := node.(type) {
	case literalNode:
		return n.value, nil
	case nameNode:
		return env[n.name], nil
	case memberNode:
		target, err := Eval(n.target, env, funcs)
		if err != nil {
			return nil, err
		}
		return memberOf(target, n.field), nil
	case unaryNode:
		operand, err := Eval(n.operand, env, funcs)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "!":
			return !truthy(operand), nil
		case "-":
			return -toFloat(operand), nil
		}
		return nil, fmt.Errorf("expr: unknown unary operator %q", n.op)
	case binaryNode:
		return evalBinary(n, env, funcs)
	case callNode:
		fn, ok := funcs[n.name]
		if !ok {
			return nil, fmt.Errorf("expr: call to undeclared function %q", n.name)
		}
		args := make([]any, len(n.args))
		for i, a := range n.args {
			v, err := Eval(a, env, funcs)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(args)
	default:
		return nil, fmt.Errorf("expr: unknown node type %T", node)
	}
}

// EvalBool evaluates src against env and coerces the result to bool, the
// shape every rule condition, transition condition, and exit_condition
// ultimately needs.
func EvalBool(src string, env Env, funcs map[string]Func) (bool, error) {
	node, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := Eval(node, env, funcs)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func evalBinary(n binaryNode, env Env, funcs map[string]Func) (any, error) {
	switch n.op {
	case "&&":
		left, err := Eval(n.left, env, funcs)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := Eval(n.right, env, funcs)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "||":
		left, err := Eval(n.left, env, funcs)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := Eval(n.right, env, funcs)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := Eval(n.left, env, funcs)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.right, env, funcs)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right), nil
	case "+":
		if ls, ok := left.(string); ok {
			return ls + toStringLoose(right), nil
		}
		if rs, ok := right.(string); ok {
			return toStringLoose(left) + rs, nil
		}
		return toFloat(left) + toFloat(right), nil
	case "-":
		return toFloat(left) - toFloat(right), nil
	case "*":
		return toFloat(left) * toFloat(right), nil
	case "/":
		d := toFloat(right)
		if d == 0 {
			return nil, fmt.Errorf("expr: division by zero")
		}
		return toFloat(left) / d, nil
	}
	return nil, fmt.Errorf("expr: unknown binary operator %q", n.op)
}

func memberOf(target any, field string) any {
	switch m := target.(type) {
	case map[string]any:
		return m[field]
	case Env:
		return m[field]
	default:
		return nil
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return toStringLoose(v)
}

func toStringLoose(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", x)
	}
}

func equal(a, b any) bool {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		return af == bf
	}
	return toStringLoose(a) == toStringLoose(b)
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func compare(op string, a, b any) bool {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		}
	}
	as, bs := toStringLoose(a), toStringLoose(b)
	switch op {
	case "<":
		return as < bs
	case "<=":
		return as <= bs
	case ">":
		return as > bs
	case ">=":
		return as >= bs
	}
	return false
}
