package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/pathnorm"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

type harness struct {
	discoverer *fakeDiscoverer
	packager   *fakePackager
	store      *fakeStore
	watchers   *fakeWatchers
	observer   *mockObserver
}

func newHarness(names ...string) *harness {
	cartridges := map[string]domain.Cartridge{}
	for _, n := range names {
		cartridges[n] = domain.NewCartridge("/w/" + n)
	}
	return &harness{
		discoverer: &fakeDiscoverer{cartridges: cartridges},
		packager:   &fakePackager{},
		store:      &fakeStore{},
		watchers:   newFakeWatchers(),
		observer:   &mockObserver{},
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	cfg.Root = "/w"
	return NewOrchestrator(cfg, Deps{
		Discoverer: h.discoverer,
		Packager:   h.packager,
		Store:      h.store,
		Watchers:   h.watchers,
		Normalizer: pathnorm.Default(),
		Observer:   h.observer,
	})
}

// start runs o in the background and returns a function that cancels the
// run and returns its error.
func start(t *testing.T, o *Orchestrator) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- o.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
			return nil
		}
	}
}

func waitState(t *testing.T, o *Orchestrator, name string, want domain.CartridgeState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.States()[name] == want
	}, 2*time.Second, 5*time.Millisecond, "%s never reached %v", name, want)
}

func waitCalls(t *testing.T, s *fakeStore, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Calls()) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.Calls()
}

func TestRun_DeployFailureIsIsolated(t *testing.T) {
	h := newHarness("A", "B")
	h.store.failDeploy = map[string]error{"B": errors.New("boom")}
	o := h.orchestrator(Config{Upload: true, Watch: true})

	stop := start(t, o)
	waitState(t, o, "A", domain.StateWatching)

	assert.Equal(t, domain.StateFailed, o.States()["B"])
	assert.Equal(t, []string{"A"}, h.store.Deployed())
	assert.Nil(t, h.watchers.get("B"), "failed cartridge must not be watched")

	h.watchers.get("A").events <- domain.WatchEvent{
		Kind:  domain.EventCreated,
		Paths: []string{"/w/A/cartridge/x.js"},
	}
	assert.Equal(t, []string{"PUT cartridge/x.js"}, waitCalls(t, h.store, 1))

	require.NoError(t, stop())
	assert.Equal(t, domain.StateTerminated, o.States()["A"])
	assert.Equal(t, domain.StateFailed, o.States()["B"])
}

func TestRun_EventMapping(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.WatchEvent
		want string
	}{
		{"created file", domain.WatchEvent{Kind: domain.EventCreated, Paths: []string{"/w/A/cartridge/x.js"}}, "PUT cartridge/x.js"},
		{"modified file", domain.WatchEvent{Kind: domain.EventModified, Paths: []string{"/w/A/cartridge/x.js"}}, "PUT cartridge/x.js"},
		{"created directory", domain.WatchEvent{Kind: domain.EventCreated, Paths: []string{"/w/A/cartridge/scripts"}}, "MKCOL cartridge/scripts"},
		{"removed file", domain.WatchEvent{Kind: domain.EventRemoved, Paths: []string{"/w/A/cartridge/x.js"}}, "DELETE cartridge/x.js"},
		{"removed directory", domain.WatchEvent{Kind: domain.EventRemoved, Paths: []string{"/w/A/cartridge/scripts"}}, "DELETE cartridge/scripts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness("A")
			o := h.orchestrator(Config{Watch: true})
			stop := start(t, o)
			waitState(t, o, "A", domain.StateWatching)

			h.watchers.get("A").events <- tt.ev
			assert.Equal(t, []string{tt.want}, waitCalls(t, h.store, 1))
			require.NoError(t, stop())
		})
	}
}

func TestRun_EventOutsideBoundaryIsDropped(t *testing.T) {
	h := newHarness("A")
	o := h.orchestrator(Config{Watch: true})
	stop := start(t, o)
	waitState(t, o, "A", domain.StateWatching)

	w := h.watchers.get("A")
	w.events <- domain.WatchEvent{Kind: domain.EventModified, Paths: []string{"/w/A/readme.md"}}
	w.events <- domain.WatchEvent{Kind: domain.EventModified, Paths: []string{"/w/A/cartridge/y.js"}}

	assert.Equal(t, []string{"PUT cartridge/y.js"}, waitCalls(t, h.store, 1))
	require.NoError(t, stop())
	assert.Equal(t, []string{"PUT cartridge/y.js"}, h.store.Calls())
}

func TestRun_WatchOnlySkipsDeploy(t *testing.T) {
	h := newHarness("A", "B")
	o := h.orchestrator(Config{Watch: true})
	stop := start(t, o)

	waitState(t, o, "A", domain.StateWatching)
	waitState(t, o, "B", domain.StateWatching)
	require.NoError(t, stop())

	assert.Empty(t, h.store.Deployed())
	assert.Empty(t, h.packager.packed)
	for _, ev := range h.observer.Events() {
		assert.NotEqual(t, domain.StatePackaging, ev.current)
	}
}

func TestRun_WatchRegistrationFailureIsIsolated(t *testing.T) {
	h := newHarness("A", "B")
	h.watchers.fail = map[string]error{"A": errors.New("too many watches")}
	o := h.orchestrator(Config{Watch: true})
	stop := start(t, o)

	waitState(t, o, "A", domain.StateFailed)
	waitState(t, o, "B", domain.StateWatching)
	require.NoError(t, stop())
	assert.Equal(t, domain.StateTerminated, o.States()["B"])
}

func TestRun_UploadOnly(t *testing.T) {
	h := newHarness("A", "B")
	o := h.orchestrator(Config{Upload: true, Concurrency: 1})

	require.NoError(t, o.Run(context.Background()))
	assert.ElementsMatch(t, []string{"A", "B"}, h.store.Deployed())
	assert.Equal(t, 0, h.watchers.count())
	assert.Equal(t, map[string]domain.CartridgeState{
		"A": domain.StateTerminated,
		"B": domain.StateTerminated,
	}, o.States())
}

func TestRun_UploadOnlyReportsFailures(t *testing.T) {
	h := newHarness("A", "B", "C")
	h.packager.fail = map[string]error{"B": &domain.PackagingError{Cartridge: "B", Err: errors.New("unreadable")}}
	h.store.failDeploy = map[string]error{"C": errors.New("401")}
	o := h.orchestrator(Config{Upload: true})

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrCartridgesFailed)
	assert.Equal(t, []string{"A"}, h.store.Deployed())
	assert.Equal(t, map[string]domain.CartridgeState{
		"A": domain.StateTerminated,
		"B": domain.StateFailed,
		"C": domain.StateFailed,
	}, o.States())
}

func TestRun_FatalErrors(t *testing.T) {
	t.Run("discovery", func(t *testing.T) {
		h := newHarness()
		h.discoverer.err = &domain.DiscoveryIOError{Path: "/w", Err: errors.New("gone")}
		err := h.orchestrator(Config{}).Run(context.Background())

		var derr *domain.DiscoveryIOError
		assert.True(t, errors.As(err, &derr))
	})

	t.Run("no cartridges", func(t *testing.T) {
		err := newHarness().orchestrator(Config{}).Run(context.Background())
		assert.ErrorIs(t, err, domain.ErrNoCartridges)
	})

	t.Run("output reset", func(t *testing.T) {
		h := newHarness("A")
		h.packager.resetErr = errors.New("missing outdir")
		err := h.orchestrator(Config{Upload: true}).Run(context.Background())
		assert.EqualError(t, err, "missing outdir")
		assert.Empty(t, h.store.Deployed())
	})
}

func TestRun_ShutdownTimeout(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness("A")
	h.store.block = func(ctx context.Context, path string) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	o := h.orchestrator(Config{Watch: true, ShutdownGrace: 20 * time.Millisecond})
	stop := start(t, o)
	waitState(t, o, "A", domain.StateWatching)

	h.watchers.get("A").events <- domain.WatchEvent{Kind: domain.EventModified, Paths: []string{"/w/A/cartridge/x.js"}}
	<-started

	assert.ErrorIs(t, stop(), domain.ErrShutdownTimeout)
	assert.Equal(t, domain.StateTerminated, o.States()["A"])
}

func TestRun_InFlightOperationFinishesWithinGrace(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness("A")
	h.store.block = func(ctx context.Context, path string) error {
		started <- struct{}{}
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	}
	o := h.orchestrator(Config{Watch: true, ShutdownGrace: 2 * time.Second})
	stop := start(t, o)
	waitState(t, o, "A", domain.StateWatching)

	h.watchers.get("A").events <- domain.WatchEvent{Kind: domain.EventModified, Paths: []string{"/w/A/cartridge/x.js"}}
	<-started

	require.NoError(t, stop())
	assert.Equal(t, []string{"PUT cartridge/x.js"}, h.store.Calls())
}

func TestRun_CartridgeWatchesWithoutWaitingForOthers(t *testing.T) {
	release := make(chan struct{})
	h := newHarness("a_fast", "b_slow")
	h.store.deployBlock = func(ctx context.Context, cartridge string) error {
		if cartridge == "b_slow" {
			<-release
		}
		return nil
	}
	o := h.orchestrator(Config{Upload: true, Watch: true, Concurrency: 2})
	stop := start(t, o)

	waitState(t, o, "a_fast", domain.StateWatching)
	assert.Equal(t, domain.StateDeploying, o.States()["b_slow"])
	assert.Nil(t, h.watchers.get("b_slow"))

	h.watchers.get("a_fast").events <- domain.WatchEvent{
		Kind:  domain.EventModified,
		Paths: []string{"/w/a_fast/cartridge/x.js"},
	}
	assert.Equal(t, []string{"PUT cartridge/x.js"}, waitCalls(t, h.store, 1))

	close(release)
	waitState(t, o, "b_slow", domain.StateWatching)
	require.NoError(t, stop())
}

func TestRun_DeployConcurrencyIsCapped(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	release := make(chan struct{})
	h := newHarness("A", "B", "C")
	h.store.deployBlock = func(ctx context.Context, cartridge string) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		<-release
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}
	o := h.orchestrator(Config{Upload: true, Concurrency: 2})

	errc := make(chan error, 1)
	go func() { errc <- o.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return inFlight == 2
	}, 2*time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, <-errc)
	assert.Equal(t, 2, peak)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, h.store.Deployed())
}

func TestRun_DeployInFlightAtShutdownFinishesWithinGrace(t *testing.T) {
	started := make(chan struct{})
	h := newHarness("A")
	h.store.deployBlock = func(ctx context.Context, cartridge string) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return ctx.Err()
	}
	o := h.orchestrator(Config{Upload: true, Watch: true, ShutdownGrace: 2 * time.Second})
	stop := start(t, o)
	<-started

	require.NoError(t, stop())
	assert.Equal(t, []string{"A"}, h.store.Deployed())
	assert.Equal(t, domain.StateTerminated, o.States()["A"])
	assert.Equal(t, 0, h.watchers.count(), "no watch starts after shutdown")
}

func TestRun_DeployOutlivingGraceTimesOut(t *testing.T) {
	started := make(chan struct{})
	h := newHarness("A")
	h.store.deployBlock = func(ctx context.Context, cartridge string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	o := h.orchestrator(Config{Upload: true, Watch: true, ShutdownGrace: 20 * time.Millisecond})
	stop := start(t, o)
	<-started

	assert.ErrorIs(t, stop(), domain.ErrShutdownTimeout)
	assert.Equal(t, domain.StateTerminated, o.States()["A"])
}

func TestRun_NothingLeftToWatch(t *testing.T) {
	h := newHarness("A")
	h.store.failDeploy = map[string]error{"A": errors.New("500")}
	o := h.orchestrator(Config{Upload: true, Watch: true})

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrCartridgesFailed)
	assert.Equal(t, domain.StateFailed, o.States()["A"])
}

func TestRun_LogsSkippedDirectories(t *testing.T) {
	h := newHarness("A")
	h.discoverer.skipped = []error{&domain.DiscoveryIOError{Path: "/w/locked", Err: os.ErrPermission}}
	logger := &recordingLogger{}
	o := NewOrchestrator(Config{Root: "/w", Upload: true}, Deps{
		Discoverer: h.discoverer,
		Packager:   h.packager,
		Store:      h.store,
		Watchers:   h.watchers,
		Normalizer: pathnorm.Default(),
		Logger:     logger,
	})

	require.NoError(t, o.Run(context.Background()))

	e, ok := logger.find("warn", "unreadable directories skipped during discovery")
	require.True(t, ok)
	assert.Contains(t, e.fields, log.Int("count", 1))
}

func TestNewOrchestrator_Defaults(t *testing.T) {
	o := newHarness().orchestrator(Config{})
	assert.True(t, o.cfg.Upload)
	assert.True(t, o.cfg.Watch)
	assert.Positive(t, o.cfg.Concurrency)
	assert.Equal(t, DefaultShutdownGrace, o.cfg.ShutdownGrace)
	assert.NotEmpty(t, o.RunID())
}
