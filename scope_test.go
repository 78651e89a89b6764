package nasc

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// Test types for scoping and cleanup
type disposableService struct {
	mu       sync.Mutex
	disposed int
}

func (d *disposableService) Dispose() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disposed++
	return nil
}

func (d *disposableService) disposeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

type initializableService struct {
	initialized bool
}

func (i *initializableService) Initialize() error {
	i.initialized = true
	return nil
}

type failingInitializable struct{}

func (f *failingInitializable) Initialize() error {
	return errors.New("init failed")
}

type failingDisposable struct{}

func (f *failingDisposable) Dispose() error {
	return errors.New("disposal failed")
}

func newScopeWith(t *testing.T, container *Nasc, id string, definition Qualifier) *Scope {
	t.Helper()
	scope, err := container.CreateScope(id, definition)
	require.NoError(t, err)
	return scope
}

// TestScope_MemoizesPerScope verifies a scoped binding is created once per scope
func TestScope_MemoizesPerScope(t *testing.T) {
	container := New()
	var calls int32
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), func(Resolver) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return &UserSession{}, nil
	}))

	scope1 := newScopeWith(t, container, "s1", sessionScope)
	scope2 := newScopeWith(t, container, "s2", sessionScope)

	first := scope1.MustResolve((*UserSession)(nil), "")
	again := scope1.MustResolve((*UserSession)(nil), "")
	other := scope2.MustResolve((*UserSession)(nil), "")

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestScope_FactoryLifetime verifies factory bindings create a new instance each time
func TestScope_FactoryLifetime(t *testing.T) {
	container := New()
	require.NoError(t, container.Factory(sessionScope, (*UserSession)(nil), newUserSession))

	scope := newScopeWith(t, container, "s1", sessionScope)

	first := scope.MustResolve((*UserSession)(nil), "")
	second := scope.MustResolve((*UserSession)(nil), "")
	assert.NotSame(t, first, second)
}

// TestScope_NamedBindings verifies names select distinct bindings of the same type
func TestScope_NamedBindings(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*Logger)(nil), func(Resolver) (interface{}, error) {
		return &ConsoleLogger{messages: []string{"default"}}, nil
	}))
	require.NoError(t, container.Scoped(sessionScope, (*Logger)(nil), func(Resolver) (interface{}, error) {
		return &ConsoleLogger{messages: []string{"audit"}}, nil
	}, WithName("audit")))

	scope := newScopeWith(t, container, "s1", sessionScope)

	def, err := Get[Logger](scope)
	require.NoError(t, err)
	audit, err := Get[Logger](scope, "audit")
	require.NoError(t, err)

	assert.Equal(t, []string{"default"}, def.(*ConsoleLogger).messages)
	assert.Equal(t, []string{"audit"}, audit.(*ConsoleLogger).messages)

	_, err = Get[Logger](scope, "missing")
	var notFound *NoBindingFoundError
	assert.True(t, errors.As(err, &notFound))
}

// TestScope_NestedResolution verifies factories can resolve other bindings of the same scope
func TestScope_NestedResolution(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), newUserSession))
	require.NoError(t, container.Scoped(sessionScope, (*Cart)(nil), newCart))

	scope := newScopeWith(t, container, "s1", sessionScope)

	cart := MustGet[*Cart](scope)
	session := MustGet[*UserSession](scope)
	assert.Same(t, session, cart.Session)
}

// TestScope_CircularDependency verifies a cycle fails instead of deadlocking
func TestScope_CircularDependency(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), func(r Resolver) (interface{}, error) {
		if _, err := Get[*Cart](r); err != nil {
			return nil, err
		}
		return &UserSession{}, nil
	}))
	require.NoError(t, container.Scoped(sessionScope, (*Cart)(nil), newCart))

	scope := newScopeWith(t, container, "s1", sessionScope)

	done := make(chan error, 1)
	go func() {
		_, err := Get[*Cart](scope)
		done <- err
	}()

	select {
	case err := <-done:
		var circular *CircularDependencyError
		require.True(t, errors.As(err, &circular), "got %v", err)
		assert.Len(t, circular.Path, 3)
		assert.Contains(t, circular.Error(), "Cart")
	case <-time.After(5 * time.Second):
		t.Fatal("circular resolution deadlocked")
	}

	// nothing was memoized, the failure is repeatable
	_, err := Get[*Cart](scope)
	assert.Error(t, err)
}

// TestScope_SelfDependency verifies a factory resolving its own key fails
func TestScope_SelfDependency(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), func(r Resolver) (interface{}, error) {
		return Get[*UserSession](r)
	}))

	scope := newScopeWith(t, container, "s1", sessionScope)

	_, err := Get[*UserSession](scope)
	var circular *CircularDependencyError
	assert.True(t, errors.As(err, &circular))
}

// TestScope_FactoryErrorNotMemoized verifies a failed construction is retried
func TestScope_FactoryErrorNotMemoized(t *testing.T) {
	container := New()
	var calls int32
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), func(Resolver) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("backend unavailable")
		}
		return &UserSession{}, nil
	}))

	scope := newScopeWith(t, container, "s1", sessionScope)

	_, err := scope.Resolve((*UserSession)(nil), "")
	var resolution *ResolutionError
	require.True(t, errors.As(err, &resolution))
	assert.EqualError(t, errors.Unwrap(err), "backend unavailable")

	instance, err := scope.Resolve((*UserSession)(nil), "")
	require.NoError(t, err)
	assert.NotNil(t, instance)
}

// TestScope_FactoryFailures verifies invalid factory results surface as ResolutionError
func TestScope_FactoryFailures(t *testing.T) {
	tests := []struct {
		name    string
		factory FactoryFunc
	}{
		{"nil instance", func(Resolver) (interface{}, error) { return nil, nil }},
		{"wrong type", func(Resolver) (interface{}, error) { return &Cart{}, nil }},
		{"panic", func(Resolver) (interface{}, error) { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container := New()
			require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), tt.factory))
			scope := newScopeWith(t, container, "s1", sessionScope)

			_, err := scope.Resolve((*UserSession)(nil), "")
			var resolution *ResolutionError
			assert.True(t, errors.As(err, &resolution), "got %v", err)
		})
	}
}

// TestScope_InitializableInterface verifies Initialize is called after creation
func TestScope_InitializableInterface(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*initializableService)(nil), func(Resolver) (interface{}, error) {
		return &initializableService{}, nil
	}))
	require.NoError(t, container.Scoped(sessionScope, (*failingInitializable)(nil), func(Resolver) (interface{}, error) {
		return &failingInitializable{}, nil
	}))

	scope := newScopeWith(t, container, "s1", sessionScope)

	instance := MustGet[*initializableService](scope)
	assert.True(t, instance.initialized)

	_, err := Get[*failingInitializable](scope)
	assert.ErrorContains(t, err, "init failed")
}

// TestScope_ResolveNilType verifies nil type tokens are rejected
func TestScope_ResolveNilType(t *testing.T) {
	scope := newScopeWith(t, New(), "s1", sessionScope)

	_, err := scope.Resolve(nil, "")
	assert.Error(t, err)
	_, err = scope.ResolveType(nil, "")
	assert.Error(t, err)
	assert.Panics(t, func() { scope.MustResolve((*UserSession)(nil), "") })
}

// -----------------------------------------------------------------------------
// Close
// -----------------------------------------------------------------------------

// TestScope_ResolveAfterClose verifies closed scopes reject resolution
func TestScope_ResolveAfterClose(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), newUserSession))
	scope := newScopeWith(t, container, "s1", sessionScope)
	_ = scope.MustResolve((*UserSession)(nil), "")

	require.NoError(t, scope.Close())
	assert.True(t, scope.IsClosed())

	_, err := scope.Resolve((*UserSession)(nil), "")
	var closed *ClosedScopeError
	require.True(t, errors.As(err, &closed))
	assert.Equal(t, "s1", closed.ID)

	_, err = container.GetScope("s1")
	assert.Error(t, err, "closed scope must leave the registry")
}

// TestScope_DoubleClose verifies that closing a scope twice is a no-op
func TestScope_DoubleClose(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*disposableService)(nil), func(Resolver) (interface{}, error) {
		return &disposableService{}, nil
	}))
	scope := newScopeWith(t, container, "s1", sessionScope)
	instance := MustGet[*disposableService](scope)

	assert.NoError(t, scope.Close())
	assert.NoError(t, scope.Close())
	assert.Equal(t, 1, instance.disposeCount())
}

// TestScope_OperationsAfterClose verifies every mutating operation fails on a closed scope
func TestScope_OperationsAfterClose(t *testing.T) {
	container := New()
	scope := newScopeWith(t, container, "s1", sessionScope)
	other := newScopeWith(t, container, "s2", sessionScope)
	require.NoError(t, scope.Close())

	var closed *ClosedScopeError
	assert.True(t, errors.As(scope.Link(other), &closed))
	assert.True(t, errors.As(scope.Unlink(other), &closed))
	assert.True(t, errors.As(scope.Declare((*UserSession)(nil), &UserSession{}, ""), &closed))
	assert.True(t, errors.As(scope.OnClose(func(*Scope) {}), &closed))
	assert.True(t, errors.As(other.Link(scope), &closed))
}

// TestScope_DisposalOrder verifies instances are disposed in reverse creation order
func TestScope_DisposalOrder(t *testing.T) {
	container := New()

	var mu sync.Mutex
	var order []string
	hook := func(name string) DisposeFunc {
		return func(interface{}) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), newUserSession, OnClose(hook("session"))))
	require.NoError(t, container.Scoped(sessionScope, (*Cart)(nil), newCart, OnClose(hook("cart"))))

	scope := newScopeWith(t, container, "s1", sessionScope)

	// Cart resolves UserSession first, so creation order is session, cart
	_ = MustGet[*Cart](scope)
	require.NoError(t, scope.Close())

	assert.Equal(t, []string{"cart", "session"}, order)
}

// TestScope_DisposalErrorsCollected verifies failures don't stop the close
func TestScope_DisposalErrorsCollected(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	container := New(WithLogger(zap.New(core)))

	require.NoError(t, container.Scoped(sessionScope, (*failingDisposable)(nil), func(Resolver) (interface{}, error) {
		return &failingDisposable{}, nil
	}))
	require.NoError(t, container.Scoped(sessionScope, (*disposableService)(nil), func(Resolver) (interface{}, error) {
		return &disposableService{}, nil
	}))
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), newUserSession, OnClose(func(interface{}) error {
		return errors.New("hook failed")
	})))

	scope := newScopeWith(t, container, "s1", sessionScope)
	_ = MustGet[*failingDisposable](scope)
	ok := MustGet[*disposableService](scope)
	_ = MustGet[*UserSession](scope)

	err := scope.Close()
	var disposal *DisposalError
	require.True(t, errors.As(err, &disposal))
	assert.Len(t, disposal.Errors, 2)
	assert.Equal(t, "s1", disposal.ScopeID)

	assert.True(t, scope.IsClosed())
	assert.Equal(t, 1, ok.disposeCount())
	assert.Equal(t, 1, logs.FilterMessage("scope closed with disposal errors").Len())

	assert.NoError(t, scope.Close())
}

// TestScope_PanickingHookStillDisposes verifies Dispose runs after a close hook panics
func TestScope_PanickingHookStillDisposes(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*disposableService)(nil), func(Resolver) (interface{}, error) {
		return &disposableService{}, nil
	}, OnClose(func(interface{}) error {
		panic("hook exploded")
	})))

	scope := newScopeWith(t, container, "s1", sessionScope)
	instance := MustGet[*disposableService](scope)

	err := scope.Close()
	var disposal *DisposalError
	require.True(t, errors.As(err, &disposal))
	require.Len(t, disposal.Errors, 1)
	assert.ErrorContains(t, disposal.Errors[0], "hook exploded")
	assert.Equal(t, 1, instance.disposeCount())
}

// TestScope_FactoryInstancesNotDisposed verifies only memoized instances are disposed
func TestScope_FactoryInstancesNotDisposed(t *testing.T) {
	container := New()
	require.NoError(t, container.Factory(sessionScope, (*disposableService)(nil), func(Resolver) (interface{}, error) {
		return &disposableService{}, nil
	}))
	scope := newScopeWith(t, container, "s1", sessionScope)
	instance := MustGet[*disposableService](scope)

	require.NoError(t, scope.Close())
	assert.Equal(t, 0, instance.disposeCount())
}

// TestScope_OnCloseCallbacks verifies callbacks run once after the scope is marked closed
func TestScope_OnCloseCallbacks(t *testing.T) {
	scope := newScopeWith(t, New(), "s1", sessionScope)

	var calls int
	var sawClosed bool
	require.NoError(t, scope.OnClose(func(s *Scope) {
		calls++
		sawClosed = s.IsClosed()
	}))
	require.NoError(t, scope.OnClose(func(*Scope) { panic("callback exploded") }))
	var invalid *InvalidBindingError
	assert.True(t, errors.As(scope.OnClose(nil), &invalid))

	err := scope.Close()
	assert.ErrorContains(t, err, "callback exploded")
	require.NoError(t, scope.Close())

	assert.Equal(t, 1, calls)
	assert.True(t, sawClosed)
}

// -----------------------------------------------------------------------------
// Declare
// -----------------------------------------------------------------------------

func TestScope_Declare(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*Cart)(nil), newCart))
	scope := newScopeWith(t, container, "s1", sessionScope)

	declared := &UserSession{UserID: "declared"}
	require.NoError(t, scope.Declare((*UserSession)(nil), declared, ""))

	cart := MustGet[*Cart](scope)
	assert.Same(t, declared, cart.Session)

	err := scope.Declare((*UserSession)(nil), &UserSession{}, "")
	var dup *BindingAlreadyExistsError
	assert.True(t, errors.As(err, &dup))
}

func TestScope_DeclareValidation(t *testing.T) {
	scope := newScopeWith(t, New(), "s1", sessionScope)

	var invalid *InvalidBindingError
	assert.True(t, errors.As(scope.Declare(nil, &UserSession{}, ""), &invalid))
	assert.True(t, errors.As(scope.Declare((*UserSession)(nil), nil, ""), &invalid))
	assert.True(t, errors.As(scope.Declare((*UserSession)(nil), &Cart{}, ""), &invalid))
	assert.NoError(t, scope.Declare((*Logger)(nil), &ConsoleLogger{}, "console"))
}

func TestScope_DeclaredDisposableIsDisposed(t *testing.T) {
	scope := newScopeWith(t, New(), "s1", sessionScope)
	instance := &disposableService{}
	require.NoError(t, scope.Declare((*disposableService)(nil), instance, ""))

	require.NoError(t, scope.Close())
	assert.Equal(t, 1, instance.disposeCount())
}

// -----------------------------------------------------------------------------
// Concurrency
// -----------------------------------------------------------------------------

// TestScope_ConcurrentFirstResolution verifies at-most-once construction under contention
func TestScope_ConcurrentFirstResolution(t *testing.T) {
	container := New()
	var calls int32
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), func(Resolver) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return &UserSession{}, nil
	}))
	scope := newScopeWith(t, container, "s1", sessionScope)

	const workers = 50
	start := make(chan struct{})
	results := make([]*UserSession, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			session, err := Get[*UserSession](scope)
			assert.NoError(t, err)
			results[i] = session
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, session := range results {
		assert.Same(t, results[0], session)
	}
}

// sameNamedTypes returns two distinct pointer types that render identically.
func sameNamedTypes() (reflect.Type, reflect.Type) {
	first := func() reflect.Type {
		type Config struct{ Primary string }
		return reflect.TypeOf(&Config{})
	}()
	second := func() reflect.Type {
		type Config struct{ Secondary int }
		return reflect.TypeOf(&Config{})
	}()
	return first, second
}

func newOf(t reflect.Type) interface{} {
	return reflect.New(t.Elem()).Interface()
}

// TestScope_SameNamedTypesNested verifies a factory can resolve another type
// whose key renders the same as its own
func TestScope_SameNamedTypesNested(t *testing.T) {
	typeA, typeB := sameNamedTypes()
	require.NotEqual(t, typeA, typeB)
	require.Equal(t, typeA.String(), typeB.String())

	container := New()
	require.NoError(t, container.Scoped(sessionScope, newOf(typeA), func(r Resolver) (interface{}, error) {
		if _, err := r.ResolveType(typeB, ""); err != nil {
			return nil, err
		}
		return newOf(typeA), nil
	}))
	require.NoError(t, container.Scoped(sessionScope, newOf(typeB), func(Resolver) (interface{}, error) {
		return newOf(typeB), nil
	}))

	scope := newScopeWith(t, container, "s1", sessionScope)

	done := make(chan interface{}, 1)
	go func() {
		instance, err := scope.ResolveType(typeA, "")
		assert.NoError(t, err)
		done <- instance
	}()

	select {
	case instance := <-done:
		assert.Equal(t, typeA, reflect.TypeOf(instance))
	case <-time.After(5 * time.Second):
		t.Fatal("nested resolution of a same-named type deadlocked")
	}

	instance, err := scope.ResolveType(typeB, "")
	require.NoError(t, err)
	assert.Equal(t, typeB, reflect.TypeOf(instance))
}

// TestScope_SameNamedTypesConcurrent verifies concurrent first resolutions of
// same-named types never share a construction
func TestScope_SameNamedTypesConcurrent(t *testing.T) {
	typeA, typeB := sameNamedTypes()

	container := New()
	var callsA, callsB int32
	require.NoError(t, container.Scoped(sessionScope, newOf(typeA), func(Resolver) (interface{}, error) {
		atomic.AddInt32(&callsA, 1)
		time.Sleep(10 * time.Millisecond)
		return newOf(typeA), nil
	}))
	require.NoError(t, container.Scoped(sessionScope, newOf(typeB), func(Resolver) (interface{}, error) {
		atomic.AddInt32(&callsB, 1)
		time.Sleep(10 * time.Millisecond)
		return newOf(typeB), nil
	}))

	scope := newScopeWith(t, container, "s1", sessionScope)

	const workers = 20
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		want := typeA
		if i%2 == 1 {
			want = typeB
		}
		wg.Add(1)
		go func(want reflect.Type) {
			defer wg.Done()
			<-start
			instance, err := scope.ResolveType(want, "")
			if assert.NoError(t, err) {
				assert.Equal(t, want, reflect.TypeOf(instance))
			}
		}(want)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&callsA))
	assert.Equal(t, int32(1), atomic.LoadInt32(&callsB))
}

// TestScope_CloseDuringConstruction verifies an instance finished after close is disposed
func TestScope_CloseDuringConstruction(t *testing.T) {
	container := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var created *disposableService

	require.NoError(t, container.Scoped(sessionScope, (*disposableService)(nil), func(Resolver) (interface{}, error) {
		close(started)
		<-release
		created = &disposableService{}
		return created, nil
	}))
	scope := newScopeWith(t, container, "s1", sessionScope)

	errCh := make(chan error, 1)
	go func() {
		_, err := Get[*disposableService](scope)
		errCh <- err
	}()

	<-started
	require.NoError(t, scope.Close())
	close(release)

	err := <-errCh
	var closed *ClosedScopeError
	require.True(t, errors.As(err, &closed), "got %v", err)
	assert.Equal(t, 1, created.disposeCount())
}

// TestScope_ConcurrentResolveAndClose exercises resolution racing with close
func TestScope_ConcurrentResolveAndClose(t *testing.T) {
	container := New()
	require.NoError(t, container.Scoped(sessionScope, (*UserSession)(nil), newUserSession))

	for i := 0; i < 20; i++ {
		scope := newScopeWith(t, container, "race", sessionScope)

		var wg sync.WaitGroup
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := scope.Resolve((*UserSession)(nil), "")
				if err != nil {
					var closed *ClosedScopeError
					assert.True(t, errors.As(err, &closed), "got %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, scope.Close())
		}()
		wg.Wait()
	}
}
