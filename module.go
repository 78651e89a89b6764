package nasc

import (
	"fmt"
	"reflect"
)

// Module is the interface that must be implemented by modules.
// Modules encapsulate related scope definitions.
//
// Example:
//
//	type CheckoutModule struct{}
//
//	func (m *CheckoutModule) Register(container *Nasc) error {
//	    if err := container.Scoped(Named("checkout"), (*Cart)(nil), newCart); err != nil {
//	        return err
//	    }
//	    return container.Factory(Named("checkout"), (*Receipt)(nil), newReceipt)
//	}
type Module interface {
	Register(container *Nasc) error
}

// BootableModule is an optional interface for modules that need a boot phase.
// The Boot method is called after all modules have been registered.
//
// Example:
//
//	func (m *SessionModule) Boot(container *Nasc) error {
//	    _, err := container.GetOrCreateScope("app", Named("app"))
//	    return err
//	}
type BootableModule interface {
	Module
	Boot(container *Nasc) error
}

// DeferredModule is an optional interface for modules that should be
// registered conditionally.
//
// Example:
//
//	func (m *DebugModule) ShouldRegister(container *Nasc) bool {
//	    return config.Debug
//	}
type DeferredModule interface {
	Module
	ShouldRegister(container *Nasc) bool
}

// ModuleFunc adapts a plain function to the Module interface.
type ModuleFunc func(container *Nasc) error

// Register calls f(container).
func (f ModuleFunc) Register(container *Nasc) error {
	return f(container)
}

// moduleEntry tracks a loaded module.
type moduleEntry struct {
	module Module
	booted bool
}

// Load registers modules with the container, in order.
// A module's Register method is called immediately. Module types other than
// ModuleFunc are loaded at most once; loading the same type again is a no-op.
//
// Example:
//
//	container.Load(&SessionModule{}, &CheckoutModule{})
//	container.Boot()
func (n *Nasc) Load(modules ...Module) error {
	for _, module := range modules {
		if err := n.load(module); err != nil {
			return err
		}
	}
	return nil
}

func (n *Nasc) load(module Module) error {
	if module == nil {
		return fmt.Errorf("module cannot be nil")
	}

	// Check if module is deferred
	if deferred, ok := module.(DeferredModule); ok {
		if !deferred.ShouldRegister(n) {
			return nil
		}
	}

	n.modulesMu.Lock()
	defer n.modulesMu.Unlock()

	// Check if already loaded (by type)
	moduleType := reflect.TypeOf(module)
	if _, isFunc := module.(ModuleFunc); !isFunc {
		for _, entry := range n.modules {
			if reflect.TypeOf(entry.module) == moduleType {
				return nil
			}
		}
	}

	if err := module.Register(n); err != nil {
		return fmt.Errorf("module %v registration failed: %w", moduleType, err)
	}

	n.modules = append(n.modules, &moduleEntry{module: module})
	return nil
}

// Boot calls the Boot method on all loaded modules that implement
// BootableModule and have not been booted yet.
func (n *Nasc) Boot() error {
	n.modulesMu.Lock()
	entries := make([]*moduleEntry, len(n.modules))
	copy(entries, n.modules)
	n.modulesMu.Unlock()

	for _, entry := range entries {
		if entry.booted {
			continue
		}

		if bootable, ok := entry.module.(BootableModule); ok {
			if err := bootable.Boot(n); err != nil {
				return fmt.Errorf("module %T boot failed: %w", entry.module, err)
			}
			entry.booted = true
		}
	}

	return nil
}

// Modules returns all loaded modules in load order.
func (n *Nasc) Modules() []Module {
	n.modulesMu.Lock()
	defer n.modulesMu.Unlock()

	modules := make([]Module, len(n.modules))
	for i, entry := range n.modules {
		modules[i] = entry.module
	}
	return modules
}
