package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling and translation decisions.
type ErrorCategory string

const (
	ErrCatNotFound     ErrorCategory = "not_found"
	ErrCatAmbiguousRef ErrorCategory = "ambiguous_reference"
	ErrCatConstraint   ErrorCategory = "constraint_violation"
	ErrCatPermission   ErrorCategory = "permission_denied"
	ErrCatTimeout      ErrorCategory = "timeout"
	ErrCatCancelled    ErrorCategory = "cancelled"
	ErrCatProvider     ErrorCategory = "provider_error"
	ErrCatGit          ErrorCategory = "git_error"
	ErrCatIntegrity    ErrorCategory = "integrity_error"
	ErrCatUserBlocked  ErrorCategory = "user_blocked"
	ErrCatInternal     ErrorCategory = "internal"
	ErrCatValidation   ErrorCategory = "validation"
)

// DomainError is the single error currency across Gobby's managers. Every
// boundary (HookDispatcher, MCP, HTTP) translates a DomainError into its own
// wire shape rather than inventing a parallel taxonomy.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]any
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information, returning the receiver for chaining.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrNotFound builds a NotFound error for a resource kind and reference.
func ErrNotFound(resource, ref string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, ref),
	}
}

// ErrAmbiguousRef builds the error for a reference matching more than one row,
// carrying the candidate IDs so a CLI/MCP caller can disambiguate.
func ErrAmbiguousRef(resource, ref string, candidates []string) *DomainError {
	return (&DomainError{
		Category: ErrCatAmbiguousRef,
		Code:     "AMBIGUOUS_REFERENCE",
		Message:  fmt.Sprintf("%s reference %q matches %d rows", resource, ref, len(candidates)),
	}).WithDetail("candidates", candidates)
}

// ErrConstraint builds a constraint-violation error (invalid state
// transition, DAG cycle, duplicate sequence number, and similar).
func ErrConstraint(code, message string) *DomainError {
	return &DomainError{Category: ErrCatConstraint, Code: code, Message: message}
}

// ErrPermission builds a permission-denied error (tool blocked by the active
// workflow, approval still pending).
func ErrPermission(code, message string) *DomainError {
	return &DomainError{Category: ErrCatPermission, Code: code, Message: message}
}

// ErrTimeout builds a timeout error. Timeouts are retryable by default.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: "TIMEOUT", Message: message, Retryable: true}
}

// ErrCancelled builds a cancellation error for a context that was cancelled
// mid-operation (agent kill, workflow cancel).
func ErrCancelled(message string) *DomainError {
	return &DomainError{Category: ErrCatCancelled, Code: "CANCELLED", Message: message}
}

// ErrProvider builds an error for an LLM or external-API failure. Retryable
// unless the cause indicates a permanent rejection (auth, invalid request).
func ErrProvider(message string, retryable bool) *DomainError {
	return &DomainError{Category: ErrCatProvider, Code: "PROVIDER_ERROR", Message: message, Retryable: retryable}
}

// ErrGit builds an error for a failed git subprocess invocation.
func ErrGit(op, message string) *DomainError {
	return &DomainError{Category: ErrCatGit, Code: "GIT_" + op, Message: message}
}

// ErrIntegrity builds an error for data that fails a stored invariant (store
// checksum mismatch, JSONL parse failure, orphaned foreign key).
func ErrIntegrity(code, message string) *DomainError {
	return &DomainError{Category: ErrCatIntegrity, Code: code, Message: message}
}

// ErrUserBlocked builds the one error category the HookDispatcher does NOT
// fail open on: a rule explicitly denied the tool call.
func ErrUserBlocked(reason string) *DomainError {
	return (&DomainError{Category: ErrCatUserBlocked, Code: "BLOCKED", Message: "blocked by workflow rule"}).
		WithDetail("reason", reason)
}

// ErrInternal builds an unexpected-internal-error wrapper.
func ErrInternal(message string, cause error) *DomainError {
	return (&DomainError{Category: ErrCatInternal, Code: "INTERNAL", Message: message}).WithCause(cause)
}

// ErrValidation builds an input-validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// IsRetryable reports whether err, if a DomainError, is marked retryable.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Category extracts the ErrorCategory of err, defaulting to ErrCatInternal
// for errors that are not a DomainError.
func Category(err error) ErrorCategory {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrCatInternal
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat ErrorCategory) bool {
	return Category(err) == cat
}

// Predefined error codes used across managers.
const (
	CodeDAGCycle           = "DAG_CYCLE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeDuplicateSeq       = "DUPLICATE_SEQUENCE"
	CodeLockHeld           = "LOCK_HELD"
	CodeApprovalPending    = "APPROVAL_PENDING"
	CodeToolDenied         = "TOOL_DENIED"
	CodeMaxValidationFails = "MAX_VALIDATION_FAILS"
	CodeWorktreeExists     = "WORKTREE_EXISTS"
	CodeMergeConflict      = "MERGE_CONFLICT"
	CodeAgentDepthExceeded = "AGENT_DEPTH_EXCEEDED"
	CodeWorkflowCycle      = "WORKFLOW_CYCLE"
)
