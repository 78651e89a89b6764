package nasc

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// Disposable represents a service that requires cleanup.
// Memoized instances implementing this interface will have Dispose called
// when their scope is closed.
//
// Example:
//
//	type DatabaseConnection struct {}
//	func (d *DatabaseConnection) Dispose() error {
//	    return d.connection.Close()
//	}
type Disposable interface {
	Dispose() error
}

// Initializable represents a service that requires initialization.
// Services implementing this interface will have Initialize called
// after being created.
//
// Example:
//
//	type Service struct {}
//	func (s *Service) Initialize() error {
//	    return s.setup()
//	}
type Initializable interface {
	Initialize() error
}

// memoEntry records a materialized instance for disposal.
type memoEntry struct {
	key      registry.Key
	instance interface{}
	onClose  DisposeFunc
}

// Scope is a bounded lifetime container for lazily created, memoized instances.
//
// A scope resolves a key from its own bindings first and then from the scopes it
// is linked to, in link order. Links are stored by scope id and looked up in the
// container registry, so a scope never owns the scopes it links to.
//
// Example:
//
//	scope, _ := container.CreateScope("checkout-1", nasc.Named("checkout"))
//	defer scope.Close()
//
//	cart := scope.MustResolve((*Cart)(nil), "").(*Cart)
type Scope struct {
	id         string
	definition Qualifier
	container  *Nasc

	mu            sync.RWMutex
	instances     map[registry.Key]interface{}
	creationOrder []memoEntry // Track order for reverse disposal
	links         []string
	callbacks     []func(*Scope)
	closed        bool

	group singleflight.Group
}

// newScope creates a new open scope. It is not registered.
func newScope(container *Nasc, id string, definition Qualifier) *Scope {
	return &Scope{
		id:            id,
		definition:    definition,
		container:     container,
		instances:     make(map[registry.Key]interface{}),
		creationOrder: make([]memoEntry, 0),
		links:         make([]string, 0),
	}
}

// ID returns the scope instance id.
func (s *Scope) ID() string {
	return s.id
}

// Definition returns the qualifier of the scope definition.
func (s *Scope) Definition() Qualifier {
	return s.definition
}

// Scope returns s. It lets a *Scope be used wherever a Resolver is expected.
func (s *Scope) Scope() *Scope {
	return s
}

// IsClosed reports whether Close has been called.
func (s *Scope) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Links returns the ids of the linked scopes in link order.
func (s *Scope) Links() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]string, len(s.links))
	copy(links, s.links)
	return links
}

// Resolve returns an instance of abstractType.
// The abstractType should be a type token like (*Logger)(nil) or (*Session)(nil).
// An empty name selects the unnamed binding.
//
// Resolution order:
//   - instances declared in or already memoized by this scope
//   - bindings of this scope's definition (created and memoized on first use)
//   - linked scopes, in link order; the first scope that resolves wins
//
// Returns ClosedScopeError after Close and NoBindingFoundError when nothing matches.
func (s *Scope) Resolve(abstractType interface{}, name string) (interface{}, error) {
	if abstractType == nil {
		return nil, &InvalidBindingError{Reason: "cannot resolve nil type"}
	}
	return s.resolve(registry.Key{Type: typeOf(abstractType), Name: name}, nil)
}

// ResolveType is Resolve for an explicit reflect.Type.
func (s *Scope) ResolveType(t reflect.Type, name string) (interface{}, error) {
	if t == nil {
		return nil, &InvalidBindingError{Reason: "cannot resolve nil type"}
	}
	return s.resolve(registry.Key{Type: t, Name: name}, nil)
}

// MustResolve is like Resolve but panics on error.
//
// Example:
//
//	cart := scope.MustResolve((*Cart)(nil), "").(*Cart)
func (s *Scope) MustResolve(abstractType interface{}, name string) interface{} {
	instance, err := s.Resolve(abstractType, name)
	if err != nil {
		panic(err)
	}
	return instance
}

// resolve runs the full resolution: own bindings first, then links.
func (s *Scope) resolve(key registry.Key, path []pathEntry) (interface{}, error) {
	if s.IsClosed() {
		return nil, &ClosedScopeError{ID: s.id, Operation: "resolve " + key.String()}
	}

	instance, found, err := s.resolveOwn(key, path)
	if found {
		return instance, err
	}

	searched := []string{s.id}
	visited := map[string]bool{s.id: true}
	instance, found, err = s.resolveLinked(key, path, visited, &searched)
	if found {
		if err == nil {
			s.container.metrics.resolved(outcomeLinked)
		}
		return instance, err
	}

	s.container.metrics.resolved(outcomeMiss)
	return nil, &NoBindingFoundError{Key: key, ScopeID: s.id, Searched: searched}
}

// resolveOwn resolves key from this scope only. found is false when the scope
// has neither an instance nor a binding for key.
func (s *Scope) resolveOwn(key registry.Key, path []pathEntry) (instance interface{}, found bool, err error) {
	s.mu.RLock()
	instance, exists := s.instances[key]
	s.mu.RUnlock()

	if exists {
		s.container.metrics.resolved(outcomeHit)
		return instance, true, nil
	}

	binding, err := s.container.registry.Get(string(s.definition), key)
	if err != nil {
		return nil, false, nil
	}

	next, err := s.enter(path, key)
	if err != nil {
		s.container.metrics.resolved(outcomeError)
		return nil, true, err
	}

	switch Lifetime(binding.Lifetime) {
	case LifetimeScoped:
		instance, err = s.memoize(binding, next)

	case LifetimeFactory:
		instance, err = s.construct(binding, next)
		if err == nil {
			s.container.metrics.resolved(outcomeFactory)
		}

	default:
		err = &ResolutionError{Key: key, ScopeID: s.id, Context: fmt.Sprintf("unknown lifetime %q", binding.Lifetime)}
	}

	if err != nil {
		s.container.metrics.resolved(outcomeError)
	}
	return instance, true, err
}

// resolveLinked searches the linked scopes in link order. With transitive links
// enabled the links of each linked scope are searched depth first.
func (s *Scope) resolveLinked(key registry.Key, path []pathEntry, visited map[string]bool, searched *[]string) (interface{}, bool, error) {
	for _, id := range s.Links() {
		if visited[id] {
			continue
		}
		visited[id] = true

		target, ok := s.container.lookup(id)
		if !ok || target.IsClosed() {
			s.container.logger.Debug("skipping link to closed scope",
				zap.String("scope", s.id),
				zap.String("link", id),
			)
			continue
		}
		*searched = append(*searched, id)

		instance, found, err := target.resolveOwn(key, path)
		if found {
			return instance, true, err
		}

		if s.container.config.TransitiveLinks {
			instance, found, err = target.resolveLinked(key, path, visited, searched)
			if found {
				return instance, true, err
			}
		}
	}

	return nil, false, nil
}

// construct invokes the binding's factory with a Resolver bound to this scope.
// Panics raised by the factory are converted into a ResolutionError.
func (s *Scope) construct(binding *registry.Binding, path []pathEntry) (instance interface{}, err error) {
	key := binding.Key

	factory, ok := binding.Factory.(FactoryFunc)
	if !ok {
		return nil, &ResolutionError{Key: key, ScopeID: s.id, Context: "invalid factory function"}
	}

	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = &ResolutionError{Key: key, ScopeID: s.id, Context: fmt.Sprintf("factory panicked: %v", r)}
		}
	}()

	instance, err = factory(&resolution{scope: s, path: path})
	if err != nil {
		return nil, &ResolutionError{Key: key, ScopeID: s.id, Cause: err}
	}
	if instance == nil {
		return nil, &ResolutionError{Key: key, ScopeID: s.id, Context: "factory returned nil"}
	}
	if !reflect.TypeOf(instance).AssignableTo(key.Type) {
		return nil, &ResolutionError{
			Key:     key,
			ScopeID: s.id,
			Context: fmt.Sprintf("factory returned %T which is not assignable to %v", instance, key.Type),
		}
	}

	// Initialize if implements Initializable
	if initializable, ok := instance.(Initializable); ok {
		if err := initializable.Initialize(); err != nil {
			return nil, &ResolutionError{Key: key, ScopeID: s.id, Context: "initialize", Cause: err}
		}
	}

	return instance, nil
}

// Link appends targets to this scope's links. Linking is idempotent: a target
// that is already linked keeps its original position.
//
// Example:
//
//	fragment.Link(activity)
//	// fragment now falls through to activity's bindings
//
// Returns ClosedScopeError if this scope or any target is closed.
func (s *Scope) Link(targets ...*Scope) error {
	for _, target := range targets {
		if target == nil {
			return &InvalidLinkError{Source: s.id, Reason: "target scope cannot be nil"}
		}
		if target == s {
			return &InvalidLinkError{Source: s.id, Target: target.id, Reason: "a scope cannot link to itself"}
		}
		if target.container != s.container {
			return &InvalidLinkError{Source: s.id, Target: target.id, Reason: "scopes belong to different containers"}
		}
		if target.IsClosed() {
			return &ClosedScopeError{ID: target.id, Operation: "link"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ClosedScopeError{ID: s.id, Operation: "link"}
	}

	for _, target := range targets {
		if containsString(s.links, target.id) {
			continue
		}
		s.links = append(s.links, target.id)
		s.container.logger.Debug("scope linked",
			zap.String("scope", s.id),
			zap.String("link", target.id),
		)
	}

	return nil
}

// Unlink removes target from this scope's links. Unlinking a scope that is not
// linked is a no-op.
func (s *Scope) Unlink(target *Scope) error {
	if target == nil {
		return &InvalidLinkError{Source: s.id, Reason: "target scope cannot be nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ClosedScopeError{ID: s.id, Operation: "unlink"}
	}

	for i, id := range s.links {
		if id == target.id {
			s.links = append(s.links[:i:i], s.links[i+1:]...)
			s.container.logger.Debug("scope unlinked",
				zap.String("scope", s.id),
				zap.String("link", target.id),
			)
			break
		}
	}

	return nil
}

// Declare places an existing instance into this scope under abstractType and
// name. Declared instances take precedence over bindings and are disposed with
// the scope like memoized instances.
//
// Example:
//
//	scope.Declare((*Request)(nil), req, "")
func (s *Scope) Declare(abstractType interface{}, instance interface{}, name string) error {
	if abstractType == nil {
		return &InvalidBindingError{Reason: "abstract type cannot be nil"}
	}
	if instance == nil {
		return &InvalidBindingError{Reason: "declared instance cannot be nil"}
	}

	key := registry.Key{Type: typeOf(abstractType), Name: name}
	if !reflect.TypeOf(instance).AssignableTo(key.Type) {
		return &InvalidBindingError{
			Reason: fmt.Sprintf("instance of type %T is not assignable to %v", instance, key.Type),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ClosedScopeError{ID: s.id, Operation: "declare " + key.String()}
	}
	if _, exists := s.instances[key]; exists {
		return &BindingAlreadyExistsError{Definition: s.id, Key: key}
	}

	s.instances[key] = instance
	s.creationOrder = append(s.creationOrder, memoEntry{key: key, instance: instance})
	return nil
}

// OnClose registers a callback that runs once when the scope closes, before
// instances are disposed.
func (s *Scope) OnClose(callback func(*Scope)) error {
	if callback == nil {
		return &InvalidBindingError{Reason: "close callback cannot be nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &ClosedScopeError{ID: s.id, Operation: "register close callback"}
	}
	s.callbacks = append(s.callbacks, callback)
	return nil
}

// Close marks the scope closed, removes it from the container, runs close
// callbacks and disposes memoized instances in reverse creation order (the
// binding's OnClose hook first, then Disposable.Dispose).
//
// Close is idempotent; only the first call does any work. Disposal failures do
// not stop the remaining disposals and are returned as a DisposalError.
//
// Example:
//
//	scope, _ := container.CreateScope("", nasc.Named("request"))
//	defer scope.Close()
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil // Already closed
	}
	s.closed = true

	callbacks := s.callbacks
	order := s.creationOrder
	s.callbacks = nil
	s.creationOrder = nil
	s.instances = make(map[registry.Key]interface{})
	s.links = nil
	s.mu.Unlock()

	s.container.unregister(s)

	var errs error
	for _, callback := range callbacks {
		errs = multierr.Append(errs, s.runCallback(callback))
	}

	// Dispose instances in reverse creation order
	for i := len(order) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.dispose(order[i]))
	}

	s.container.metrics.scopesClosed.Inc()
	s.container.metrics.scopesOpen.Dec()

	if errs != nil {
		failures := multierr.Errors(errs)
		s.container.metrics.disposalErrors.Add(float64(len(failures)))
		s.container.logger.Warn("scope closed with disposal errors",
			zap.String("scope", s.id),
			zap.Int("errors", len(failures)),
			zap.Error(errs),
		)
		return &DisposalError{ScopeID: s.id, Errors: failures}
	}

	s.container.logger.Debug("scope closed",
		zap.String("scope", s.id),
		zap.Int("disposed", len(order)),
	)
	return nil
}

// runCallback runs a close callback, converting a panic into an error.
func (s *Scope) runCallback(callback func(*Scope)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close callback panicked: %v", r)
		}
	}()
	callback(s)
	return nil
}

// dispose releases a single memoized instance: the binding's close hook, then
// Disposable.Dispose. Each step runs even if the other failed or panicked.
func (s *Scope) dispose(entry memoEntry) error {
	var err error

	if entry.onClose != nil {
		err = multierr.Append(err, guard(fmt.Sprintf("close hook for %s", entry.key), func() error {
			return entry.onClose(entry.instance)
		}))
	}

	if disposable, ok := entry.instance.(Disposable); ok {
		err = multierr.Append(err, guard(fmt.Sprintf("disposal of %s", entry.key), disposable.Dispose))
	}

	return err
}

// guard runs fn, converting a returned error or a panic into an error labeled with step.
func guard(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()

	if fnErr := fn(); fnErr != nil {
		return fmt.Errorf("%s: %w", step, fnErr)
	}
	return nil
}

// containsString checks if s exists in a slice of strings.
func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
