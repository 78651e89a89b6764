package nasc

import (
	"fmt"
	"reflect"
)

// ConstructorFunc represents a constructor function type.
// Supported signatures:
//   - func() T
//   - func() (T, error)
//   - func(Dep1, Dep2, ...) T
//   - func(Dep1, Dep2, ...) (T, error)
//
// T must be a pointer or an interface. Each parameter is resolved by its type
// from the scope that owns the binding.
type ConstructorFunc interface{}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// constructorInfo holds metadata about a constructor function.
type constructorInfo struct {
	fn           reflect.Value
	paramTypes   []reflect.Type
	returnsError bool
	returnType   reflect.Type
}

// parseConstructor analyzes a constructor function and extracts metadata.
func parseConstructor(constructor ConstructorFunc) (*constructorInfo, error) {
	if constructor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	fnValue := reflect.ValueOf(constructor)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %v", fnType.Kind())
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("constructor cannot be variadic")
	}

	// Validate return values
	numOut := fnType.NumOut()
	if numOut == 0 || numOut > 2 {
		return nil, fmt.Errorf("constructor must return (T) or (T, error), got %d return values", numOut)
	}

	returnType := fnType.Out(0)
	if returnType.Kind() != reflect.Ptr && returnType.Kind() != reflect.Interface {
		return nil, fmt.Errorf("constructor must return a pointer or interface, got %v", returnType.Kind())
	}

	returnsError := false
	if numOut == 2 {
		if fnType.Out(1) != errorType {
			return nil, fmt.Errorf("constructor's second return value must be error, got %v", fnType.Out(1))
		}
		returnsError = true
	}

	paramTypes := make([]reflect.Type, fnType.NumIn())
	for i := range paramTypes {
		paramTypes[i] = fnType.In(i)
	}

	return &constructorInfo{
		fn:           fnValue,
		paramTypes:   paramTypes,
		returnsError: returnsError,
		returnType:   returnType,
	}, nil
}

// factory turns the constructor into a FactoryFunc.
func (info *constructorInfo) factory() FactoryFunc {
	return func(r Resolver) (interface{}, error) {
		params := make([]reflect.Value, len(info.paramTypes))
		for i, paramType := range info.paramTypes {
			resolved, err := r.ResolveType(paramType, "")
			if err != nil {
				return nil, fmt.Errorf("failed to resolve parameter %d (%v): %w", i, paramType, err)
			}
			params[i] = reflect.ValueOf(resolved)
		}

		results := info.fn.Call(params)

		if info.returnsError && !results[1].IsNil() {
			return nil, fmt.Errorf("constructor returned error: %w", results[1].Interface().(error))
		}
		if results[0].IsNil() {
			return nil, fmt.Errorf("constructor returned nil")
		}

		return results[0].Interface(), nil
	}
}

// ScopedConstructor registers a scoped binding built by a constructor function.
// A nil abstractType binds the constructor's return type.
//
// Example:
//
//	container.ScopedConstructor(nasc.Named("request"), (*UserService)(nil), NewUserService)
//	// Where: func NewUserService(repo UserRepository, logger Logger) (*UserService, error)
func (n *Nasc) ScopedConstructor(definition Qualifier, abstractType interface{}, constructor ConstructorFunc, opts ...BindingOption) error {
	return n.bindConstructorWithLifetime(definition, abstractType, constructor, LifetimeScoped, opts)
}

// FactoryConstructor registers a factory binding built by a constructor function.
//
// Example:
//
//	container.FactoryConstructor(nasc.Named("request"), nil, NewAuditEntry)
func (n *Nasc) FactoryConstructor(definition Qualifier, abstractType interface{}, constructor ConstructorFunc, opts ...BindingOption) error {
	return n.bindConstructorWithLifetime(definition, abstractType, constructor, LifetimeFactory, opts)
}

// bindConstructorWithLifetime is the internal method that handles constructor binding.
func (n *Nasc) bindConstructorWithLifetime(definition Qualifier, abstractType interface{}, constructor ConstructorFunc, lifetime Lifetime, opts []BindingOption) error {
	info, err := parseConstructor(constructor)
	if err != nil {
		return &InvalidBindingError{Reason: fmt.Sprintf("invalid constructor: %v", err)}
	}

	abstractT := info.returnType
	if abstractType != nil {
		abstractT = typeOf(abstractType)
		if !info.returnType.AssignableTo(abstractT) && info.returnType.Kind() != reflect.Interface {
			return &InvalidBindingError{
				Reason: fmt.Sprintf("constructor returns %v which is not assignable to %v", info.returnType, abstractT),
			}
		}
	}

	return n.bindType(definition, abstractT, info.factory(), lifetime, info, opts)
}
