// Package app runs a sync: discovery, the initial deploy and the watch loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// Config contains the run parameters of an Orchestrator.
type Config struct {
	// Root is the working directory cartridges are discovered under.
	Root string

	// Upload packs and deploys every cartridge before watching.
	Upload bool
	// Watch mirrors filesystem changes until the context ends.
	Watch bool

	// Concurrency caps simultaneous deploys. Zero means runtime.NumCPU().
	Concurrency int

	CoalesceWindow time.Duration
	ShutdownGrace  time.Duration
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Discoverer ports.Discoverer
	Packager   ports.Packager
	Store      ports.RemoteStore
	Watchers   ports.WatcherFactory
	Normalizer ports.PathNormalizer

	Logger   log.Logger
	Clock    clockwork.Clock
	Observer StateObserver
}

// Orchestrator drives cartridges through discovery, deploy and watch.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  log.Logger
	tracker *Tracker
	runID   string
}

// NewOrchestrator creates an orchestrator. Each orchestrator gets a run ID
// that is attached to every log line it writes.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if !cfg.Upload && !cfg.Watch {
		cfg.Upload, cfg.Watch = true, true
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNoopLogger()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	runID := uuid.NewString()
	logger := log.With(deps.Logger, log.String("run", runID))
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		tracker: NewTracker(logger, deps.Observer),
		runID:   runID,
	}
}

// RunID identifies this run in logs.
func (o *Orchestrator) RunID() string { return o.runID }

// States returns the current state of every discovered cartridge.
func (o *Orchestrator) States() map[string]domain.CartridgeState {
	return o.tracker.Snapshot()
}

// Run executes the configured modes. Discovery and output reset failures
// are returned; any other failure is confined to its cartridge or event.
//
// Every cartridge runs its own pipeline: deploy, then watch. A cartridge
// starts watching as soon as its own deploy succeeds.
//
// In watch mode Run blocks until ctx is canceled and returns
// domain.ErrShutdownTimeout if in-flight operations outlive the grace period.
// An upload-only run returns domain.ErrCartridgesFailed if any cartridge failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting",
		log.String("root", o.cfg.Root),
		log.Bool("upload", o.cfg.Upload),
		log.Bool("watch", o.cfg.Watch),
	)

	cartridges, err := o.deps.Discoverer.Discover(o.cfg.Root)
	if err != nil {
		return fmt.Errorf("discover cartridges: %w", err)
	}
	if skipped := o.deps.Discoverer.Skipped(); len(skipped) > 0 {
		reasons := make([]string, len(skipped))
		for i, err := range skipped {
			reasons[i] = err.Error()
		}
		o.logger.Warn("unreadable directories skipped during discovery",
			log.Int("count", len(skipped)),
			log.Strings("errors", reasons),
		)
	}
	if len(cartridges) == 0 {
		return fmt.Errorf("%s: %w", o.cfg.Root, domain.ErrNoCartridges)
	}

	names := sortedNames(cartridges)
	for _, name := range names {
		o.tracker.Add(name)
	}
	o.logger.Info("cartridges discovered", log.Int("count", len(names)), log.Strings("cartridges", names))

	var archives map[string]domain.Archive
	if o.cfg.Upload {
		if archives, err = o.pack(cartridges, names); err != nil {
			return err
		}
	}
	return o.supervise(ctx, cartridges, names, archives)
}

// pack builds every archive sequentially. A cartridge that fails to pack is
// marked failed and gets no pipeline.
func (o *Orchestrator) pack(cartridges map[string]domain.Cartridge, names []string) (map[string]domain.Archive, error) {
	if err := o.deps.Packager.ResetOutputDirectory(); err != nil {
		return nil, err
	}

	archives := make(map[string]domain.Archive, len(names))
	for _, name := range names {
		o.transition(name, domain.StatePackaging, "")
		a, err := o.deps.Packager.Pack(cartridges[name])
		if err != nil {
			o.logger.Error("packaging failed", log.Cartridge(name), log.Err(err))
			o.transition(name, domain.StateFailed, err.Error())
			continue
		}
		archives[name] = a
	}
	return archives, nil
}

// supervise starts one pipeline per live cartridge and waits for ctx to end or,
// when nothing is left running, for every pipeline to finish.
func (o *Orchestrator) supervise(ctx context.Context, cartridges map[string]domain.Cartridge, names []string, archives map[string]domain.Archive) error {
	// Remote operations outlive ctx by up to the grace period.
	opCtx, cancelOps := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelOps()

	sup := newSupervisor(o.deps.Clock, o.logger)
	var (
		dispatcher *Dispatcher
		coalescer  *Coalescer
	)
	if o.cfg.Watch {
		dispatcher = newDispatcher(opCtx, o.deps.Store, sup, o.logger)
		coalescer = NewCoalescer(o.deps.Clock, o.cfg.CoalesceWindow, dispatcher.Submit)
	}

	p := pipeline{
		ctx:       ctx,
		opCtx:     opCtx,
		slots:     semaphore.NewWeighted(int64(o.cfg.Concurrency)),
		coalescer: coalescer,
	}
	var running sync.WaitGroup
	for _, name := range names {
		if s, _ := o.tracker.State(name); s.Final() {
			continue
		}
		c := cartridges[name]
		a, upload := archives[name]
		running.Add(1)
		sup.Go(func() {
			defer running.Done()
			o.runPipeline(p, c, a, upload)
		})
	}

	finished := make(chan struct{})
	go func() {
		running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if !o.cfg.Watch {
			return o.finishUpload(names)
		}
		o.logger.Error("no cartridge left to watch")
	case <-ctx.Done():
	}

	dropped := 0
	if o.cfg.Watch {
		dropped = coalescer.Stop()
		dispatcher.Stop()
	}
	o.logger.Info("shutting down",
		log.Int("dropped", dropped),
		log.Duration("grace", o.cfg.ShutdownGrace),
	)

	err := sup.WaitWithTimeout(o.cfg.ShutdownGrace)
	cancelOps()

	for _, name := range names {
		o.settle(name, domain.StateTerminated, "shutdown")
	}
	if o.cfg.Watch {
		done, failed := dispatcher.Stats()
		o.logger.Info("stopped", log.Int64("synced", done), log.Int64("failed", failed))
	}

	switch {
	case err != nil:
		return err
	case ctx.Err() == nil:
		return domain.ErrCartridgesFailed
	case !o.cfg.Watch:
		return o.finishUpload(names)
	}
	return nil
}

// pipeline carries what every cartridge pipeline of a run shares.
type pipeline struct {
	// ctx ends the run; opCtx bounds remote operations.
	ctx   context.Context
	opCtx context.Context

	// slots caps concurrent deploys.
	slots *semaphore.Weighted

	coalescer *Coalescer
}

func (o *Orchestrator) runPipeline(p pipeline, c domain.Cartridge, a domain.Archive, upload bool) {
	if upload {
		if !o.deploy(p, a) {
			return
		}
		if !o.cfg.Watch {
			o.transition(c.Name, domain.StateTerminated, "uploaded")
			return
		}
	}
	if p.ctx.Err() != nil {
		o.settle(c.Name, domain.StateTerminated, "shutdown")
		return
	}
	o.watchCartridge(p.ctx, c, p.coalescer)
}

// deploy uploads and unpacks one archive once a deploy slot is free and
// reports whether it succeeded.
func (o *Orchestrator) deploy(p pipeline, a domain.Archive) bool {
	o.transition(a.Cartridge, domain.StateDeploying, "")

	if err := p.slots.Acquire(p.ctx, 1); err != nil {
		o.settle(a.Cartridge, domain.StateTerminated, "canceled")
		return false
	}
	defer p.slots.Release(1)
	if p.ctx.Err() != nil {
		o.settle(a.Cartridge, domain.StateTerminated, "canceled")
		return false
	}

	start := o.deps.Clock.Now()
	err := o.deps.Store.DeployArchive(p.opCtx, a.Path, a.Cartridge)
	switch {
	case err == nil:
		o.logger.Info("cartridge uploaded",
			log.Cartridge(a.Cartridge),
			log.Duration("elapsed", o.deps.Clock.Since(start)),
		)
		return true
	case p.opCtx.Err() != nil:
		o.settle(a.Cartridge, domain.StateTerminated, "canceled")
	default:
		o.logger.Error("deploy failed", log.Cartridge(a.Cartridge), log.Err(err))
		o.transition(a.Cartridge, domain.StateFailed, err.Error())
	}
	return false
}

func (o *Orchestrator) finishUpload(names []string) error {
	failed := o.tracker.In(domain.StateFailed)
	o.logger.Info("upload finished",
		log.Int("succeeded", len(names)-len(failed)),
		log.Int("failed", len(failed)),
	)
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d (%v): %w", len(failed), len(names), failed, domain.ErrCartridgesFailed)
	}
	return nil
}

func (o *Orchestrator) watchCartridge(ctx context.Context, c domain.Cartridge, coalescer *Coalescer) {
	logger := log.With(o.logger, log.Cartridge(c.Name))

	w, err := o.deps.Watchers.Watch(ctx, c)
	if err != nil {
		logger.Error("watch registration failed", log.Err(err))
		o.transition(c.Name, domain.StateFailed, err.Error())
		return
	}
	defer w.Close()

	o.transition(c.Name, domain.StateWatching, "")
	logger.Info("watching", log.Path(c.Path))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				o.watchStopped(ctx, logger, c)
				return
			}
			o.handleEvent(logger, c, ev, coalescer)
		case err, ok := <-w.Errors():
			if !ok {
				o.watchStopped(ctx, logger, c)
				return
			}
			logger.Warn("watch error", log.Err(err))
		}
	}
}

func (o *Orchestrator) watchStopped(ctx context.Context, logger log.Logger, c domain.Cartridge) {
	if ctx.Err() != nil {
		return
	}
	logger.Error("watcher stopped unexpectedly")
	o.transition(c.Name, domain.StateFailed, "watcher stopped")
}

// handleEvent normalizes each path of ev and hands the resulting
// operation to the coalescer.
func (o *Orchestrator) handleEvent(logger log.Logger, c domain.Cartridge, ev domain.WatchEvent, coalescer *Coalescer) {
	for _, p := range ev.Paths {
		remote, err := o.deps.Normalizer.Normalize(p)
		if err != nil {
			if errors.Is(err, domain.ErrNotCartridgePath) {
				logger.Warn("ignoring event outside cartridge boundary", log.Path(p))
			} else {
				logger.Warn("ignoring event", log.Path(p), log.Err(err))
			}
			continue
		}
		op := domain.RemoteOp{
			Verb:       domain.VerbFor(ev.Kind, p),
			Cartridge:  c.Name,
			LocalPath:  p,
			RemotePath: remote,
		}
		logger.Debug("event",
			log.String("kind", ev.Kind.String()),
			log.Op(op.Verb.String()),
			log.Path(remote),
		)
		coalescer.Add(op)
	}
}

func (o *Orchestrator) transition(name string, s domain.CartridgeState, reason string) {
	if err := o.tracker.TransitionTo(name, s, reason); err != nil {
		o.logger.Error("unexpected state transition",
			log.Cartridge(name),
			log.String("to", s.String()),
			log.Err(err),
		)
	}
}

// settle moves a cartridge to a final state unless it already has one.
func (o *Orchestrator) settle(name string, s domain.CartridgeState, reason string) {
	if cur, _ := o.tracker.State(name); cur.Final() {
		return
	}
	if err := o.tracker.TransitionTo(name, s, reason); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		o.logger.Error("unexpected state transition", log.Cartridge(name), log.Err(err))
	}
}

func sortedNames(cartridges map[string]domain.Cartridge) []string {
	names := make([]string, 0, len(cartridges))
	for name := range cartridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
