package nasc

import (
	"sync"

	"go.uber.org/zap"
)

// Host is a component whose lifetime bounds a scope.
// OnDestroy registers a callback the host invokes exactly once when it is torn down.
//
// Example:
//
//	type Screen struct {
//	    lifecycle *nasc.Lifecycle
//	}
//
//	func (s *Screen) OnDestroy(cb func()) { s.lifecycle.OnDestroy(cb) }
type Host interface {
	OnDestroy(callback func())
}

// ScopeIDProvider is an optional interface for hosts that choose their scope id.
type ScopeIDProvider interface {
	ScopeID() string
}

// Lifecycle is a ready-made teardown signal that can be embedded in hosts.
// The zero value is ready to use.
type Lifecycle struct {
	mu        sync.Mutex
	callbacks []func()
	destroyed bool
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// OnDestroy registers callback. If the lifecycle is already destroyed the
// callback runs immediately.
func (l *Lifecycle) OnDestroy(callback func()) {
	if callback == nil {
		return
	}

	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		callback()
		return
	}
	l.callbacks = append(l.callbacks, callback)
	l.mu.Unlock()
}

// Destroy runs the registered callbacks in reverse registration order.
// Only the first call has an effect.
func (l *Lifecycle) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	callbacks := l.callbacks
	l.callbacks = nil
	l.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}

// Destroyed reports whether Destroy has been called.
func (l *Lifecycle) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// ScopeFor creates a scope whose lifetime is bound to host: the scope is closed
// when the host's teardown callback fires. The scope id comes from the host
// when it implements ScopeIDProvider, otherwise a UUID is generated.
//
// Example:
//
//	activity := &Activity{lifecycle: nasc.NewLifecycle()}
//	scope, _ := container.ScopeFor(activity, nasc.Named("activity"))
//	...
//	activity.lifecycle.Destroy() // closes scope
func (n *Nasc) ScopeFor(host Host, definition Qualifier, opts ...ScopeOption) (*Scope, error) {
	if host == nil {
		return nil, &InvalidBindingError{Reason: "host cannot be nil"}
	}

	id := ""
	if provider, ok := host.(ScopeIDProvider); ok {
		id = provider.ScopeID()
	}

	scope, err := n.CreateScope(id, definition, opts...)
	if err != nil {
		return nil, err
	}

	host.OnDestroy(func() {
		if err := scope.Close(); err != nil {
			n.logger.Warn("failed to close host scope",
				zap.String("scope", scope.ID()),
				zap.Error(err),
			)
		}
	})

	return scope, nil
}
