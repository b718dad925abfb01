package reducer

import (
	"sync"

	"cartsync/internal/domain"

	"go.uber.org/zap"
)

type Listener func(State)

// Store holds the cart state and serialises dispatches. Listeners run after
// every dispatch, outside the lock, with the state that dispatch produced.
// Concurrent dispatches may reach listeners out of order; a listener that
// cares compares State.Version and ignores states older than one it has seen.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		state:     InitialState(),
		listeners: map[int]Listener{},
		logger:    logger,
	}
}

func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	s.state.Version++
	next := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.logger.Debug("cart action dispatched",
		zap.String("action", action.Name()),
		zap.Uint64("version", next.Version),
		zap.Strings("pending", next.PendingKeys()),
		zap.Bool("hasCart", next.Cart != nil),
	)

	for _, l := range listeners {
		l(next)
	}
	return next
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the cart stored for an in-flight operation key.
func (s *Store) Snapshot(key string) (*domain.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.state.OptimisticUpdates[key]
	return snap, ok
}

func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
