package nasc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/toutaio/toutago-nasc-scopes/registry"
)

// memoize returns the scope's instance for a scoped binding, creating it on
// first use. Concurrent first resolutions of the same key share one
// construction; a failed construction is not cached, so the next call retries.
//
// This method is goroutine-safe.
func (s *Scope) memoize(binding *registry.Binding, path []pathEntry) (interface{}, error) {
	key := binding.Key

	// Fast path: check if instance exists (read lock)
	s.mu.RLock()
	instance, exists := s.instances[key]
	s.mu.RUnlock()

	if exists {
		s.container.metrics.resolved(outcomeHit)
		return instance, nil
	}

	// Slow path: one construction per key at a time
	instance, err, _ := s.group.Do(flightKey(key), func() (interface{}, error) {
		// Double-check inside the flight, another one may have finished
		s.mu.RLock()
		instance, exists := s.instances[key]
		closed := s.closed
		s.mu.RUnlock()

		if exists {
			return instance, nil
		}
		if closed {
			return nil, &ClosedScopeError{ID: s.id, Operation: "resolve " + key.String()}
		}

		instance, err := s.construct(binding, path)
		if err != nil {
			return nil, err
		}

		var onClose DisposeFunc
		if hook, ok := binding.OnClose.(DisposeFunc); ok {
			onClose = hook
		}
		entry := memoEntry{key: key, instance: instance, onClose: onClose}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			// closed while constructing: nobody else will release it
			if disposeErr := s.dispose(entry); disposeErr != nil {
				s.container.logger.Warn("failed to dispose instance created after close",
					zap.String("scope", s.id),
					zap.String("key", key.String()),
					zap.Error(disposeErr),
				)
			}
			return nil, &ClosedScopeError{ID: s.id, Operation: "resolve " + key.String()}
		}
		s.instances[key] = instance
		s.creationOrder = append(s.creationOrder, entry)
		s.mu.Unlock()

		s.container.metrics.resolved(outcomeCreated)
		return instance, nil
	})

	return instance, err
}

// flightKey identifies key within the scope's singleflight group. Key.String
// alone is not unique across types, so the type's identity is appended.
func flightKey(key registry.Key) string {
	return fmt.Sprintf("%s#%p", key, key.Type)
}
