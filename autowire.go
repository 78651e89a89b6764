package nasc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// tagOptions represents parsed options from an inject tag.
type tagOptions struct {
	skip     bool   // Don't inject this field
	optional bool   // Leave the field untouched if no binding is found
	name     string // Named binding to use
}

// parseInjectTag parses an inject struct tag and returns options.
// Supported formats:
//   - `inject:""` - basic injection
//   - `inject:"optional"` - optional injection
//   - `inject:"name=foo"` - named binding
//   - `inject:"optional,name=foo"` - combined options
func parseInjectTag(tag string) tagOptions {
	opts := tagOptions{}

	if tag == "-" {
		opts.skip = true
		return opts
	}

	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)

		if part == "optional" {
			opts.optional = true
		} else if strings.HasPrefix(part, "name=") {
			opts.name = strings.TrimPrefix(part, "name=")
		}
	}

	return opts
}

// Inject resolves every exported struct field tagged with `inject` from this
// scope (including its links) and assigns it.
//
// Supported tag options:
//   - `inject:""` - basic injection (fails if not found)
//   - `inject:"optional"` - optional (skips if no binding is found)
//   - `inject:"name=foo"` - uses named binding
//   - `inject:"-"` - ignored
//
// Example:
//
//	type CartScreen struct {
//	    Cart    *Cart    `inject:""`
//	    Promo   Promo    `inject:"optional"`
//	    Primary Notifier `inject:"name=primary"`
//	}
//
//	screen := &CartScreen{}
//	err := scope.Inject(screen)
func (s *Scope) Inject(target interface{}) error {
	if target == nil {
		return fmt.Errorf("cannot inject into nil target")
	}

	value := reflect.ValueOf(target)
	if value.Kind() != reflect.Ptr || value.IsNil() {
		return fmt.Errorf("Inject requires a non-nil pointer to struct, got %T", target)
	}

	elem := value.Elem()
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("Inject requires a pointer to struct, got pointer to %v", elem.Kind())
	}

	for _, point := range s.container.reflectionCache.injectionPoints(elem.Type()) {
		if err := s.injectField(elem.Field(point.index), point); err != nil {
			return fmt.Errorf("failed to inject field %s: %w", point.name, err)
		}
	}

	return nil
}

// injectField resolves and assigns a single injection point.
func (s *Scope) injectField(fieldValue reflect.Value, point injectionPoint) error {
	resolved, err := s.ResolveType(point.typ, point.opts.name)
	if err != nil {
		var notFound *NoBindingFoundError
		if point.opts.optional && errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	resolvedValue := reflect.ValueOf(resolved)
	if !resolvedValue.Type().AssignableTo(point.typ) {
		return fmt.Errorf("resolved type %v is not assignable to field type %v",
			resolvedValue.Type(), point.typ)
	}

	fieldValue.Set(resolvedValue)
	return nil
}
