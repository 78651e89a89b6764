package nasc

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// Nasc is the scope registry and linker.
// It stores scope definitions and owns the mapping of scope id to open scope.
// All methods are safe for concurrent use.
type Nasc struct {
	registry        *registry.Registry
	reflectionCache *reflectionCache

	mu     sync.RWMutex
	scopes map[string]*Scope

	modulesMu sync.Mutex
	modules   []*moduleEntry

	config     Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics
}

// New creates a new Nasc container instance.
// Options can be provided to configure the container behavior.
//
// Example:
//
//	container := nasc.New()
//	// or with options:
//	container := nasc.New(nasc.WithLogger(logger), nasc.WithTransitiveLinks())
func New(options ...Option) *Nasc {
	n := &Nasc{
		registry:        registry.New(),
		reflectionCache: newReflectionCache(),
		scopes:          make(map[string]*Scope),
		modules:         make([]*moduleEntry, 0),
		config:          DefaultConfig(),
		logger:          zap.NewNop(),
	}

	// Apply options
	for _, opt := range options {
		if err := opt(n); err != nil {
			panic(fmt.Sprintf("failed to apply option: %v", err))
		}
	}

	n.metrics = newMetrics(n.config.Metrics.Namespace)
	registerer := n.registerer
	if registerer == nil && n.config.Metrics.Enabled {
		registerer = prometheus.DefaultRegisterer
	}
	if registerer != nil {
		if err := n.metrics.register(registerer); err != nil {
			panic(fmt.Sprintf("failed to register metrics: %v", err))
		}
	}

	return n
}

// Config returns the effective configuration.
func (n *Nasc) Config() Config {
	return n.config
}

// BindingOption configures a single binding.
type BindingOption func(*bindingOptions)

type bindingOptions struct {
	name    string
	onClose DisposeFunc
}

// WithName qualifies a binding so that several bindings of one type can coexist.
func WithName(name string) BindingOption {
	return func(o *bindingOptions) {
		o.name = name
	}
}

// OnClose registers a disposal hook for the memoized instance.
// The hook runs before Disposable.Dispose when the scope closes.
func OnClose(hook DisposeFunc) BindingOption {
	return func(o *bindingOptions) {
		o.onClose = hook
	}
}

// Scoped registers a binding that is created once per scope of the given
// definition and memoized until the scope closes.
//
// Example:
//
//	container.Scoped(nasc.Named("checkout"), (*Cart)(nil), func(r nasc.Resolver) (interface{}, error) {
//	    return &Cart{}, nil
//	})
//
// Returns an error if:
//   - The abstract type or factory is nil
//   - A binding for the same type and name already exists in the definition
func (n *Nasc) Scoped(definition Qualifier, abstractType interface{}, factory FactoryFunc, opts ...BindingOption) error {
	return n.bind(definition, abstractType, factory, LifetimeScoped, nil, opts)
}

// Factory registers a binding whose factory is called on every resolution.
//
// Example:
//
//	container.Factory(nasc.Named("checkout"), (*Receipt)(nil), newReceipt)
func (n *Nasc) Factory(definition Qualifier, abstractType interface{}, factory FactoryFunc, opts ...BindingOption) error {
	return n.bind(definition, abstractType, factory, LifetimeFactory, nil, opts)
}

// ProvideScoped is the typed form of Scoped.
//
// Example:
//
//	nasc.ProvideScoped(container, nasc.Named("session"), func(r nasc.Resolver) (*Session, error) {
//	    return &Session{}, nil
//	})
func ProvideScoped[T any](n *Nasc, definition Qualifier, factory func(Resolver) (T, error), opts ...BindingOption) error {
	return n.bindType(definition, reflect.TypeOf((*T)(nil)).Elem(), typedFactory(factory), LifetimeScoped, nil, opts)
}

// ProvideFactory is the typed form of Factory.
func ProvideFactory[T any](n *Nasc, definition Qualifier, factory func(Resolver) (T, error), opts ...BindingOption) error {
	return n.bindType(definition, reflect.TypeOf((*T)(nil)).Elem(), typedFactory(factory), LifetimeFactory, nil, opts)
}

func typedFactory[T any](factory func(Resolver) (T, error)) FactoryFunc {
	if factory == nil {
		return nil
	}
	return func(r Resolver) (interface{}, error) {
		return factory(r)
	}
}

// bind validates the type token and registers the binding.
func (n *Nasc) bind(definition Qualifier, abstractType interface{}, factory FactoryFunc, lifetime Lifetime, constructor *constructorInfo, opts []BindingOption) error {
	if abstractType == nil {
		return &InvalidBindingError{Reason: "abstract type cannot be nil"}
	}
	return n.bindType(definition, typeOf(abstractType), factory, lifetime, constructor, opts)
}

func (n *Nasc) bindType(definition Qualifier, abstractT reflect.Type, factory FactoryFunc, lifetime Lifetime, constructor *constructorInfo, opts []BindingOption) error {
	if factory == nil {
		return &InvalidBindingError{Reason: "factory function cannot be nil"}
	}

	var o bindingOptions
	for _, opt := range opts {
		opt(&o)
	}

	binding := &registry.Binding{
		Key:      registry.Key{Type: abstractT, Name: o.name},
		Lifetime: string(lifetime),
		Factory:  factory,
	}
	if o.onClose != nil {
		binding.OnClose = o.onClose
	}
	if constructor != nil {
		binding.Constructor = constructor
	}

	if err := n.registry.Register(string(definition), binding); err != nil {
		if dup, ok := err.(*registry.BindingAlreadyExistsError); ok {
			return &BindingAlreadyExistsError{Definition: dup.Definition, Key: dup.Key}
		}
		return err
	}

	return nil
}

// Definitions returns the qualifiers of all scope definitions with bindings.
func (n *Nasc) Definitions() []Qualifier {
	names := n.registry.Definitions()
	qualifiers := make([]Qualifier, len(names))
	for i, name := range names {
		qualifiers[i] = Qualifier(name)
	}
	return qualifiers
}

// Bindings returns the keys bound in definition, in registration order.
func (n *Nasc) Bindings(definition Qualifier) []registry.Key {
	bindings := n.registry.Bindings(string(definition))
	keys := make([]registry.Key, len(bindings))
	for i, binding := range bindings {
		keys[i] = binding.Key
	}
	return keys
}

// ScopeOption configures scope creation.
type ScopeOption func(*scopeOptions)

type scopeOptions struct {
	links []*Scope
}

// LinkTo links the new scope to the given scopes, in order.
func LinkTo(targets ...*Scope) ScopeOption {
	return func(o *scopeOptions) {
		o.links = append(o.links, targets...)
	}
}

// CreateScope creates and registers an empty scope bound to the definition.
// An empty id generates a random UUID.
//
// Example:
//
//	activity, _ := container.CreateScope("main-activity", nasc.Named("activity"))
//	fragment, _ := container.CreateScope("cart-fragment", nasc.Named("fragment"), nasc.LinkTo(activity))
//
// Returns DuplicateScopeIDError if a scope with the id is already open.
func (n *Nasc) CreateScope(id string, definition Qualifier, opts ...ScopeOption) (*Scope, error) {
	var o scopeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if id == "" {
		id = uuid.NewString()
	}

	n.mu.Lock()
	if _, exists := n.scopes[id]; exists {
		n.mu.Unlock()
		return nil, &DuplicateScopeIDError{ID: id}
	}
	scope := newScope(n, id, definition)
	n.scopes[id] = scope
	n.mu.Unlock()

	n.metrics.scopesCreated.Inc()
	n.metrics.scopesOpen.Inc()
	n.logger.Debug("scope created",
		zap.String("scope", id),
		zap.String("definition", string(definition)),
	)
	if !n.registry.HasDefinition(string(definition)) {
		n.logger.Debug("scope definition has no bindings",
			zap.String("scope", id),
			zap.String("definition", string(definition)),
		)
	}

	if len(o.links) > 0 {
		if err := scope.Link(o.links...); err != nil {
			_ = scope.Close()
			return nil, err
		}
	}

	return scope, nil
}

// GetScope returns the open scope with the given id.
func (n *Nasc) GetScope(id string) (*Scope, error) {
	scope, ok := n.lookup(id)
	if !ok {
		return nil, &ScopeNotFoundError{ID: id}
	}
	return scope, nil
}

// GetOrCreateScope returns the open scope with the given id, creating it when absent.
func (n *Nasc) GetOrCreateScope(id string, definition Qualifier) (*Scope, error) {
	for {
		if scope, ok := n.lookup(id); ok {
			return scope, nil
		}
		scope, err := n.CreateScope(id, definition)
		if _, dup := err.(*DuplicateScopeIDError); dup {
			// lost a race with another creator
			continue
		}
		return scope, err
	}
}

// Scopes returns the ids of all open scopes, sorted.
func (n *Nasc) Scopes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	ids := make([]string, 0, len(n.scopes))
	for id := range n.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve resolves abstractType from scope. See Scope.Resolve.
func (n *Nasc) Resolve(scope *Scope, abstractType interface{}, name string) (interface{}, error) {
	if scope == nil {
		return nil, &InvalidBindingError{Reason: "scope cannot be nil"}
	}
	return scope.Resolve(abstractType, name)
}

// Link links source to target. See Scope.Link.
func (n *Nasc) Link(source, target *Scope) error {
	if source == nil {
		return &InvalidLinkError{Reason: "source scope cannot be nil"}
	}
	return source.Link(target)
}

// Close closes scope. See Scope.Close.
func (n *Nasc) Close(scope *Scope) error {
	if scope == nil {
		return nil
	}
	return scope.Close()
}

// Shutdown closes every open scope and returns the combined disposal errors.
func (n *Nasc) Shutdown() error {
	n.mu.RLock()
	scopes := make([]*Scope, 0, len(n.scopes))
	for _, scope := range n.scopes {
		scopes = append(scopes, scope)
	}
	n.mu.RUnlock()

	var errs error
	for _, scope := range scopes {
		errs = multierr.Append(errs, scope.Close())
	}
	return errs
}

// lookup returns the open scope registered under id.
func (n *Nasc) lookup(id string) (*Scope, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	scope, ok := n.scopes[id]
	return scope, ok
}

// unregister removes scope from the registry if it is still the one registered under its id.
func (n *Nasc) unregister(scope *Scope) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if current, ok := n.scopes[scope.id]; ok && current == scope {
		delete(n.scopes, scope.id)
	}
}
