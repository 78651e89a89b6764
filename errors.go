package nasc

import (
	"fmt"
	"strings"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// DuplicateScopeIDError is returned when creating a scope whose id is already open.
type DuplicateScopeIDError struct {
	ID string
}

func (e *DuplicateScopeIDError) Error() string {
	return fmt.Sprintf("scope %q already exists. Close it first or use GetOrCreateScope()", e.ID)
}

// ScopeNotFoundError is returned when no open scope has the requested id.
type ScopeNotFoundError struct {
	ID string
}

func (e *ScopeNotFoundError) Error() string {
	return fmt.Sprintf("scope %q not found", e.ID)
}

// ClosedScopeError is returned by any operation on a closed scope other than Close.
type ClosedScopeError struct {
	ID        string
	Operation string
}

func (e *ClosedScopeError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("scope %q is closed", e.ID)
	}
	return fmt.Sprintf("cannot %s: scope %q is closed", e.Operation, e.ID)
}

// NoBindingFoundError is returned when neither a scope nor any of its linked
// scopes can provide the requested type.
type NoBindingFoundError struct {
	Key      registry.Key
	ScopeID  string
	Searched []string
}

func (e *NoBindingFoundError) Error() string {
	msg := fmt.Sprintf("no binding found for %s in scope %q", e.Key, e.ScopeID)
	if len(e.Searched) > 1 {
		msg += fmt.Sprintf(" (searched: %s)", strings.Join(e.Searched, ", "))
	}
	return msg + ". Did you forget to register it with Scoped() or Factory()?"
}

// BindingAlreadyExistsError is returned when attempting to register or declare a duplicate binding.
type BindingAlreadyExistsError struct {
	Definition string
	Key        registry.Key
}

func (e *BindingAlreadyExistsError) Error() string {
	return fmt.Sprintf("binding already exists for %s in %q. Use a different name or remove the existing one first.", e.Key, e.Definition)
}

// InvalidBindingError is returned when a binding has invalid parameters.
type InvalidBindingError struct {
	Reason string
}

func (e *InvalidBindingError) Error() string {
	return fmt.Sprintf("invalid binding: %s", e.Reason)
}

// InvalidLinkError is returned when a link cannot be established.
type InvalidLinkError struct {
	Source string
	Target string
	Reason string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid link %q -> %q: %s", e.Source, e.Target, e.Reason)
}

// ResolutionError is returned when instance construction fails.
type ResolutionError struct {
	Key     registry.Key
	ScopeID string
	Cause   error
	Context string
}

func (e *ResolutionError) Error() string {
	contextStr := ""
	if e.Context != "" {
		contextStr = fmt.Sprintf(": %s", e.Context)
	}

	causeStr := ""
	if e.Cause != nil {
		causeStr = fmt.Sprintf(": %v", e.Cause)
	}

	return fmt.Sprintf("failed to resolve %s in scope %q%s%s", e.Key, e.ScopeID, contextStr, causeStr)
}

// Unwrap returns the underlying cause error.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// CircularDependencyError indicates a binding depends on itself, directly or indirectly.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "circular dependency detected"
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// DisposalError collects the failures raised while closing a scope.
// The scope is closed even when a DisposalError is returned.
type DisposalError struct {
	ScopeID string
	Errors  []error
}

func (e *DisposalError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("scope %q disposal failed: %v", e.ScopeID, e.Errors[0])
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("scope %q disposal encountered %d errors:\n", e.ScopeID, len(e.Errors)))
	for i, err := range e.Errors {
		b.WriteString(fmt.Sprintf("  %d. %v\n", i+1, err))
	}
	return b.String()
}

func (e *DisposalError) Unwrap() []error {
	return e.Errors
}
