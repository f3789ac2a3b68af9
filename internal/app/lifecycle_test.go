package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// mockObserver tracks state change events for testing.
type mockObserver struct {
	mu     sync.Mutex
	events []stateChangeEvent
}

type stateChangeEvent struct {
	cartridge string
	previous  domain.CartridgeState
	current   domain.CartridgeState
	reason    string
}

func (m *mockObserver) OnStateChange(cartridge string, previous, current domain.CartridgeState, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stateChangeEvent{cartridge, previous, current, reason})
}

func (m *mockObserver) Events() []stateChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stateChangeEvent{}, m.events...)
}

func TestTracker_Add(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.Add("app")

	s, ok := tr.State("app")
	if !ok || s != domain.StateDiscovered {
		t.Errorf("State(app) = %v, %v; want Discovered, true", s, ok)
	}
	if _, ok := tr.State("other"); ok {
		t.Error("State(other) reported as tracked")
	}
}

func TestCartridgeState_String(t *testing.T) {
	tests := []struct {
		state domain.CartridgeState
		want  string
	}{
		{domain.StateDiscovered, "Discovered"},
		{domain.StatePackaging, "Packaging"},
		{domain.StateDeploying, "Deploying"},
		{domain.StateWatching, "Watching"},
		{domain.StateTerminated, "Terminated"},
		{domain.StateFailed, "Failed"},
		{domain.CartridgeState(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CartridgeState(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestTracker_TransitionTo_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from domain.CartridgeState
		to   domain.CartridgeState
	}{
		{"discovered to packaging", domain.StateDiscovered, domain.StatePackaging},
		{"discovered to watching", domain.StateDiscovered, domain.StateWatching}, // watch-only runs
		{"discovered to failed", domain.StateDiscovered, domain.StateFailed},
		{"packaging to deploying", domain.StatePackaging, domain.StateDeploying},
		{"packaging to failed", domain.StatePackaging, domain.StateFailed},
		{"deploying to watching", domain.StateDeploying, domain.StateWatching},
		{"deploying to terminated", domain.StateDeploying, domain.StateTerminated}, // upload-only runs
		{"deploying to failed", domain.StateDeploying, domain.StateFailed},
		{"watching to terminated", domain.StateWatching, domain.StateTerminated},
		{"watching to failed", domain.StateWatching, domain.StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil, nil)
			tr.Add("app")
			tr.states["app"] = tt.from

			if err := tr.TransitionTo("app", tt.to, "test"); err != nil {
				t.Fatalf("TransitionTo() error = %v", err)
			}
			if s, _ := tr.State("app"); s != tt.to {
				t.Errorf("state = %v after transition, want %v", s, tt.to)
			}
		})
	}
}

func TestTracker_TransitionTo_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from domain.CartridgeState
		to   domain.CartridgeState
	}{
		{"discovered to deploying", domain.StateDiscovered, domain.StateDeploying},
		{"packaging to watching", domain.StatePackaging, domain.StateWatching},
		{"deploying to packaging", domain.StateDeploying, domain.StatePackaging},
		{"watching to deploying", domain.StateWatching, domain.StateDeploying},
		{"terminated to watching", domain.StateTerminated, domain.StateWatching},
		{"failed to deploying", domain.StateFailed, domain.StateDeploying},
		{"failed to terminated", domain.StateFailed, domain.StateTerminated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil, nil)
			tr.Add("app")
			tr.states["app"] = tt.from

			err := tr.TransitionTo("app", tt.to, "test")
			if err != domain.ErrInvalidTransition {
				t.Errorf("TransitionTo() error = %v, want ErrInvalidTransition", err)
			}
			// State should not change on invalid transition
			if s, _ := tr.State("app"); s != tt.from {
				t.Errorf("state changed to %v on invalid transition, want %v", s, tt.from)
			}
		})
	}
}

func TestTracker_TransitionTo_Unknown(t *testing.T) {
	tr := NewTracker(nil, nil)
	if err := tr.TransitionTo("ghost", domain.StatePackaging, ""); err != domain.ErrUnknownCartridge {
		t.Errorf("TransitionTo() error = %v, want ErrUnknownCartridge", err)
	}
}

func TestTracker_TransitionTo_NotifiesObserver(t *testing.T) {
	obs := &mockObserver{}
	tr := NewTracker(log.NewNoopLogger(), obs)
	tr.Add("app")

	_ = tr.TransitionTo("app", domain.StatePackaging, "")
	_ = tr.TransitionTo("app", domain.StateFailed, "disk full")
	_ = tr.TransitionTo("app", domain.StateDeploying, "") // rejected, not observed

	events := obs.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].previous != domain.StateDiscovered || events[0].current != domain.StatePackaging {
		t.Errorf("event 0: got %v->%v, want Discovered->Packaging", events[0].previous, events[0].current)
	}
	if events[1].current != domain.StateFailed || events[1].reason != "disk full" {
		t.Errorf("event 1: got %v (%q), want Failed (disk full)", events[1].current, events[1].reason)
	}
}

func TestTracker_In(t *testing.T) {
	tr := NewTracker(nil, nil)
	for _, name := range []string{"c", "a", "b"} {
		tr.Add(name)
	}
	_ = tr.TransitionTo("b", domain.StateFailed, "")

	got := tr.In(domain.StateDiscovered)
	if fmt.Sprint(got) != "[a c]" {
		t.Errorf("In(Discovered) = %v, want [a c]", got)
	}
	if snap := tr.Snapshot(); len(snap) != 3 || snap["b"] != domain.StateFailed {
		t.Errorf("Snapshot() = %v", snap)
	}
}

func TestTracker_Concurrency(t *testing.T) {
	tr := NewTracker(nil, nil)
	for i := 0; i < 10; i++ {
		tr.Add(fmt.Sprintf("app%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_ = tr.TransitionTo(name, domain.StatePackaging, "")
			_ = tr.TransitionTo(name, domain.StateDeploying, "")
			_ = tr.TransitionTo(name, domain.StateWatching, "")
			_ = tr.Snapshot()
		}(fmt.Sprintf("app%d", i))
	}
	wg.Wait()

	if n := len(tr.In(domain.StateWatching)); n != 10 {
		t.Errorf("%d cartridges watching, want 10", n)
	}
}

func TestSupervisor_WaitWithTimeout_Success(t *testing.T) {
	s := newSupervisor(clockwork.NewRealClock(), log.NewNoopLogger())
	s.Go(func() { time.Sleep(10 * time.Millisecond) })

	if err := s.WaitWithTimeout(time.Second); err != nil {
		t.Errorf("WaitWithTimeout() = %v, want nil", err)
	}
}

func TestSupervisor_WaitWithTimeout_Timeout(t *testing.T) {
	s := newSupervisor(clockwork.NewRealClock(), log.NewNoopLogger())
	release := make(chan struct{})
	s.Go(func() { <-release })

	err := s.WaitWithTimeout(10 * time.Millisecond)
	if err != domain.ErrShutdownTimeout {
		t.Errorf("WaitWithTimeout() = %v, want ErrShutdownTimeout", err)
	}

	// Clean up
	close(release)
}
