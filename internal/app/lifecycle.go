package app

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// DefaultShutdownGrace is how long in-flight remote operations may run
// after shutdown begins.
const DefaultShutdownGrace = 10 * time.Second

// StateObserver is called when a cartridge changes state.
type StateObserver interface {
	OnStateChange(cartridge string, previous, current domain.CartridgeState, reason string)
}

// transitions lists the states each state may move to.
var transitions = map[domain.CartridgeState][]domain.CartridgeState{
	domain.StateDiscovered: {domain.StatePackaging, domain.StateWatching, domain.StateTerminated, domain.StateFailed},
	domain.StatePackaging:  {domain.StateDeploying, domain.StateTerminated, domain.StateFailed},
	domain.StateDeploying:  {domain.StateWatching, domain.StateTerminated, domain.StateFailed},
	domain.StateWatching:   {domain.StateTerminated, domain.StateFailed},
}

// Tracker holds the state of every cartridge in a run.
type Tracker struct {
	mu       sync.RWMutex
	states   map[string]domain.CartridgeState
	logger   log.Logger
	observer StateObserver
}

// NewTracker creates an empty tracker. observer may be nil.
func NewTracker(logger log.Logger, observer StateObserver) *Tracker {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Tracker{
		states:   make(map[string]domain.CartridgeState),
		logger:   logger,
		observer: observer,
	}
}

// Add starts tracking a cartridge in StateDiscovered.
func (t *Tracker) Add(cartridge string) {
	t.mu.Lock()
	t.states[cartridge] = domain.StateDiscovered
	t.mu.Unlock()
}

// State returns the current state of a cartridge.
func (t *Tracker) State(cartridge string) (domain.CartridgeState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[cartridge]
	return s, ok
}

// TransitionTo moves a cartridge to a new state.
// Returns domain.ErrInvalidTransition if the move is not allowed.
func (t *Tracker) TransitionTo(cartridge string, next domain.CartridgeState, reason string) error {
	t.mu.Lock()
	prev, ok := t.states[cartridge]
	if !ok {
		t.mu.Unlock()
		return domain.ErrUnknownCartridge
	}
	if !allowed(prev, next) {
		t.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	t.states[cartridge] = next
	t.mu.Unlock()

	// Notify outside of lock
	if t.observer != nil {
		t.observer.OnStateChange(cartridge, prev, next, reason)
	}

	fields := []log.Field{
		log.Cartridge(cartridge),
		log.String("from", prev.String()),
		log.String("to", next.String()),
	}
	if reason != "" {
		fields = append(fields, log.String("reason", reason))
	}
	if next == domain.StateFailed {
		t.logger.Warn("state transition", fields...)
	} else {
		t.logger.Debug("state transition", fields...)
	}
	return nil
}

// Snapshot returns a copy of all cartridge states.
func (t *Tracker) Snapshot() map[string]domain.CartridgeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.CartridgeState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// In returns the sorted names of cartridges currently in state s.
func (t *Tracker) In(s domain.CartridgeState) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	for name, cur := range t.states {
		if cur == s {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func allowed(from, to domain.CartridgeState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// supervisor tracks every goroutine a run starts so shutdown can wait for
// them with a bounded grace period.
type supervisor struct {
	wg     sync.WaitGroup
	clock  clockwork.Clock
	logger log.Logger
}

func newSupervisor(clock clockwork.Clock, logger log.Logger) *supervisor {
	return &supervisor{clock: clock, logger: logger}
}

// Go runs fn on a tracked goroutine.
func (s *supervisor) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// WaitWithTimeout waits for all tracked goroutines to finish.
// Returns domain.ErrShutdownTimeout if the timeout expires.
func (s *supervisor) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-s.clock.After(timeout):
		s.logger.Warn("shutdown timeout, abandoning in-flight operations",
			log.Duration("timeout", timeout),
		)
		return domain.ErrShutdownTimeout
	}
}
