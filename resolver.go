package nasc

import (
	"fmt"
	"reflect"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// Resolver resolves instances. *Scope implements it, and factories receive one
// bound to the scope that owns the binding being constructed.
type Resolver interface {
	// Resolve returns an instance for a type token like (*Logger)(nil).
	Resolve(abstractType interface{}, name string) (interface{}, error)

	// ResolveType returns an instance for an explicit type.
	ResolveType(t reflect.Type, name string) (interface{}, error)

	// Scope returns the scope resolution starts from.
	Scope() *Scope
}

// pathEntry is one step of an in-progress resolution.
type pathEntry struct {
	scopeID string
	key     registry.Key
}

func (p pathEntry) String() string {
	return p.scopeID + "/" + p.key.String()
}

// resolution is the Resolver handed to factories. It carries the chain of
// bindings under construction so that a binding which needs itself fails with
// CircularDependencyError instead of blocking on its own construction.
type resolution struct {
	scope *Scope
	path  []pathEntry
}

func (r *resolution) Resolve(abstractType interface{}, name string) (interface{}, error) {
	if abstractType == nil {
		return nil, &InvalidBindingError{Reason: "cannot resolve nil type"}
	}
	return r.scope.resolve(registry.Key{Type: typeOf(abstractType), Name: name}, r.path)
}

func (r *resolution) ResolveType(t reflect.Type, name string) (interface{}, error) {
	if t == nil {
		return nil, &InvalidBindingError{Reason: "cannot resolve nil type"}
	}
	return r.scope.resolve(registry.Key{Type: t, Name: name}, r.path)
}

func (r *resolution) Scope() *Scope {
	return r.scope
}

// enter returns path extended with (s, key), or a CircularDependencyError when
// (s, key) is already being constructed further up the chain.
func (s *Scope) enter(path []pathEntry, key registry.Key) ([]pathEntry, error) {
	step := pathEntry{scopeID: s.id, key: key}

	for i, p := range path {
		if p == step {
			cycle := make([]string, 0, len(path)-i+1)
			for _, q := range path[i:] {
				cycle = append(cycle, q.String())
			}
			cycle = append(cycle, step.String())
			return nil, &CircularDependencyError{Path: cycle}
		}
	}

	next := make([]pathEntry, len(path), len(path)+1)
	copy(next, path)
	return append(next, step), nil
}

// Get resolves an instance of T from r.
// An optional name selects a named binding.
//
// Example:
//
//	session, err := nasc.Get[*Session](scope)
//	primary, err := nasc.Get[Notifier](scope, "primary")
func Get[T any](r Resolver, name ...string) (T, error) {
	var zero T

	if r == nil {
		return zero, &InvalidBindingError{Reason: "resolver cannot be nil"}
	}

	bindingName := ""
	if len(name) > 0 {
		bindingName = name[0]
	}

	instance, err := r.ResolveType(reflect.TypeOf((*T)(nil)).Elem(), bindingName)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("resolved instance of type %T cannot be converted to %v", instance, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// MustGet is like Get but panics on error.
func MustGet[T any](r Resolver, name ...string) T {
	instance, err := Get[T](r, name...)
	if err != nil {
		panic(err)
	}
	return instance
}
