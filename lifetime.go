package nasc

import (
	"reflect"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// Lifetime represents the lifecycle strategy for a binding inside a scope.
type Lifetime string

const (
	// LifetimeScoped creates one instance per scope.
	// The instance is created lazily on first resolution and memoized until
	// the scope is closed.
	LifetimeScoped Lifetime = "scoped"

	// LifetimeFactory calls the factory on every resolution.
	// Factory instances are not memoized and are not disposed by the scope.
	LifetimeFactory Lifetime = "factory"
)

// String returns the string representation of the lifetime.
func (l Lifetime) String() string {
	return string(l)
}

// FactoryFunc creates an instance inside a scope.
// It receives a Resolver bound to the scope that owns the binding, which can be
// used to resolve further dependencies.
//
// Example:
//
//	factory := func(r nasc.Resolver) (interface{}, error) {
//	    cfg, err := nasc.Get[*Config](r)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return NewSession(cfg.UserID), nil
//	}
//	container.Scoped(nasc.Named("session"), (*Session)(nil), factory)
type FactoryFunc func(r Resolver) (interface{}, error)

// DisposeFunc is a disposal hook run for a memoized instance when its scope closes.
type DisposeFunc func(instance interface{}) error

// Qualifier names a scope definition or a binding.
type Qualifier string

// Named returns a string qualifier.
func Named(name string) Qualifier {
	return Qualifier(name)
}

// TypeQualifier returns a qualifier derived from the fully qualified name of T.
//
// Example:
//
//	container.Scoped(nasc.TypeQualifier[*CheckoutActivity](), (*Cart)(nil), newCart)
func TypeQualifier[T any]() Qualifier {
	return Qualifier(registry.TypeName(reflect.TypeOf((*T)(nil)).Elem()))
}

// String returns the string representation of the qualifier.
func (q Qualifier) String() string {
	return string(q)
}

// typeOf extracts the abstract reflect.Type from a type token such as
// (*Logger)(nil) or &Config{}.
func typeOf(abstractType interface{}) reflect.Type {
	abstractT := reflect.TypeOf(abstractType)
	if abstractT.Kind() == reflect.Ptr && abstractT.Elem().Kind() == reflect.Interface {
		return abstractT.Elem()
	}
	return abstractT
}
