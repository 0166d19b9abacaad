package hooks

import "github.com/gobbyhq/gobby/internal/core"

// Response is the wire shape spec.md §4.5 names:
// {decision: allow|deny|ask, message?, inject_context?, modify_request?}.
type Response struct {
	Decision      string         `json:"decision"`
	Message       string         `json:"message,omitempty"`
	InjectContext map[string]any `json:"inject_context,omitempty"`
	ModifyRequest map[string]any `json:"modify_request,omitempty"`
}

// responseFor maps a core.RuleAction (the WorkflowEngine/rule vocabulary)
// onto the three-way allow/deny/ask decision the hook wire format exposes.
func responseFor(action core.RuleAction, message string, context map[string]any) Response {
	resp := Response{Message: message, InjectContext: context}
	switch action {
	case core.RuleActionBlock:
		resp.Decision = "deny"
	case core.RuleActionRequireApproval:
		resp.Decision = "ask"
	default:
		resp.Decision = "allow"
	}
	return resp
}
