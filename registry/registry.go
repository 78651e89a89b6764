// Package registry provides thread-safe storage of scope definitions and their bindings.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Key identifies a binding inside a scope definition.
type Key struct {
	// Type is the abstract type being bound (e.g., the Logger interface)
	Type reflect.Type

	// Name is the optional binding qualifier. Empty for the default binding.
	Name string
}

// String returns a readable form of the key for messages and logs.
// Named types are rendered with their full package path. Unnamed types such as
// pointers use reflect's short form, so distinct types can share a String; use
// the Key itself when identity matters.
func (k Key) String() string {
	s := TypeName(k.Type)
	if k.Name != "" {
		s += "@" + k.Name
	}
	return s
}

// TypeName returns the fully qualified name of t.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Binding represents a recipe for producing an instance inside a scope.
type Binding struct {
	// Key is the (type, name) pair the binding answers to
	Key Key

	// Lifetime defines how instances are managed
	// Values: "scoped", "factory"
	Lifetime string

	// Factory is the creation function (stores nasc.FactoryFunc)
	Factory interface{}

	// OnClose is an optional disposal hook run when the owning scope closes
	// (stores func(any) error)
	OnClose interface{}

	// Constructor holds constructor function metadata for constructor bindings
	Constructor interface{}
}

// Registry stores bindings grouped by scope definition qualifier.
// Registration order is preserved per definition.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]map[Key]*Binding
	order       map[string][]Key
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{
		definitions: make(map[string]map[Key]*Binding),
		order:       make(map[string][]Key),
	}
}

// Register stores a binding under the given definition.
// Returns an error if a binding for the same key already exists in that definition.
//
// This method is goroutine-safe.
func (r *Registry) Register(definition string, binding *Binding) error {
	if binding == nil {
		return fmt.Errorf("binding cannot be nil")
	}
	if binding.Key.Type == nil {
		return fmt.Errorf("binding type cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bindings, exists := r.definitions[definition]
	if !exists {
		bindings = make(map[Key]*Binding)
		r.definitions[definition] = bindings
	}

	if _, exists := bindings[binding.Key]; exists {
		return &BindingAlreadyExistsError{Definition: definition, Key: binding.Key}
	}

	bindings[binding.Key] = binding
	r.order[definition] = append(r.order[definition], binding.Key)
	return nil
}

// Get retrieves a binding by definition and key.
//
// This method is goroutine-safe.
func (r *Registry) Get(definition string, key Key) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, exists := r.definitions[definition][key]
	if !exists {
		return nil, &BindingNotFoundError{Definition: definition, Key: key}
	}

	return binding, nil
}

// Has checks if a binding exists for the given definition and key.
//
// This method is goroutine-safe.
func (r *Registry) Has(definition string, key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.definitions[definition][key]
	return exists
}

// HasDefinition reports whether at least one binding was registered for definition.
func (r *Registry) HasDefinition(definition string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.definitions[definition]) > 0
}

// Bindings returns the bindings of a definition in registration order.
// Returns an empty slice for unknown definitions.
func (r *Registry) Bindings(definition string) []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.order[definition]
	result := make([]*Binding, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.definitions[definition][key])
	}

	return result
}

// Definitions returns all definition qualifiers that have bindings, sorted.
func (r *Registry) Definitions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// BindingAlreadyExistsError is returned when attempting to register a duplicate binding.
type BindingAlreadyExistsError struct {
	Definition string
	Key        Key
}

func (e *BindingAlreadyExistsError) Error() string {
	return fmt.Sprintf("binding %s already exists in definition %q", e.Key, e.Definition)
}

// BindingNotFoundError is returned when a requested binding does not exist.
type BindingNotFoundError struct {
	Definition string
	Key        Key
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("binding %s not found in definition %q", e.Key, e.Definition)
}
