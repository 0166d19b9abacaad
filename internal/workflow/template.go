package workflow

import (
	"fmt"
	"strings"

	"github.com/gobbyhq/gobby/internal/workflow/expr"
)

// RenderTemplate expands a Jinja-like `{{ expression }}` template against
// env using the same restricted-grammar evaluator that rule conditions use
// (spec.md §4.4: the template engine for on_enter's inject_context/
// inject_message shares the expression namespace with the rule engine,
// plus `artifacts`/`task_list` and whatever explicit variables the caller
// passes in env). Only `{{ }}` interpolation is supported — no control-flow
// tags — since spec.md's on_enter/on_exit actions already provide branching
// via rules and transitions.
func RenderTemplate(tmpl string, env expr.Env, funcs map[string]expr.Func) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start+2:], "}}")
		if end < 0 {
			return "", fmt.Errorf("template: unterminated {{ starting at %d", start)
		}
		end = start + 2 + end

		expression := strings.TrimSpace(tmpl[start+2 : end])
		node, err := expr.Parse(expression)
		if err != nil {
			return "", fmt.Errorf("template: %q: %w", expression, err)
		}
		v, err := expr.Eval(node, env, funcs)
		if err != nil {
			return "", fmt.Errorf("template: %q: %w", expression, err)
		}
		out.WriteString(stringify(v))

		i = end + 2
	}
	return out.String(), nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
