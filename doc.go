// Package nasc provides named dependency-injection scopes for Go.
//
// A scope is a bounded lifetime container for lazily created, memoized
// instances. Scopes are created from scope definitions, looked up by id,
// linked to each other without ownership, and closed exactly once when the
// component hosting them goes away.
//
// # Features
//
//   - Scope definitions with scoped (memoized) and factory bindings
//   - Named bindings and type qualifiers
//   - Registry of open scopes keyed by id, duplicate ids rejected
//   - Non-owning links between scopes, resolved by id in link order
//   - Optional transitive link traversal
//   - At-most-once construction under concurrent first resolution
//   - Reentrant nested resolution with circular dependency detection
//   - Disposal hooks and Disposable instances, reverse creation order
//   - Host teardown signals that close scopes
//   - Constructor and struct tag injection
//   - Modules, YAML configuration, zap logging, Prometheus metrics
//
// # Quick Start
//
// Define bindings for a scope definition and create a scope:
//
//	container := nasc.New()
//	container.Scoped(nasc.Named("session"), (*UserSession)(nil), func(r nasc.Resolver) (interface{}, error) {
//	    return &UserSession{}, nil
//	})
//
//	session, _ := container.CreateScope("s1", nasc.Named("session"))
//	defer session.Close()
//
// # Links
//
// A scope falls through to the scopes it is linked to when it has no binding
// of its own:
//
//	screen, _ := container.CreateScope("s2", nasc.Named("screen"), nasc.LinkTo(session))
//	user, _ := nasc.Get[*UserSession](screen) // memoized in s1
//
// Links are not transitive unless the container is created with
// WithTransitiveLinks.
//
// # Hosts
//
// Bind a scope to a host's teardown signal:
//
//	lifecycle := nasc.NewLifecycle()
//	scope, _ := container.ScopeFor(lifecycle, nasc.Named("screen"))
//	lifecycle.Destroy() // closes scope
package nasc
