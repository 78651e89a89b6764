package nasc

import (
	"reflect"
	"sync"
)

// injectionPoint is a struct field Scope.Inject assigns.
type injectionPoint struct {
	index int
	name  string
	typ   reflect.Type
	opts  tagOptions
}

// reflectionCache keeps the injection points of every struct type seen by
// Scope.Inject, so tags are parsed once per type.
type reflectionCache struct {
	mu     sync.RWMutex
	points map[reflect.Type][]injectionPoint
}

func newReflectionCache() *reflectionCache {
	return &reflectionCache{
		points: make(map[reflect.Type][]injectionPoint),
	}
}

// injectionPoints returns the exported fields of typ carrying an inject tag
// other than "-". Pointer types are dereferenced; non-struct types have none.
func (rc *reflectionCache) injectionPoints(typ reflect.Type) []injectionPoint {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	rc.mu.RLock()
	points, ok := rc.points[typ]
	rc.mu.RUnlock()
	if ok {
		return points
	}

	points = scanInjectionPoints(typ)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if cached, ok := rc.points[typ]; ok {
		return cached
	}
	rc.points[typ] = points
	return points
}

func scanInjectionPoints(typ reflect.Type) []injectionPoint {
	if typ.Kind() != reflect.Struct {
		return nil
	}

	var points []injectionPoint
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag, tagged := field.Tag.Lookup("inject")
		if !tagged || !field.IsExported() {
			continue
		}

		opts := parseInjectTag(tag)
		if opts.skip {
			continue
		}
		points = append(points, injectionPoint{
			index: i,
			name:  field.Name,
			typ:   field.Type,
			opts:  opts,
		})
	}
	return points
}

// size returns the number of cached types.
func (rc *reflectionCache) size() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.points)
}
