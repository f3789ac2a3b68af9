package upy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/NazgoooAtanasov/upy/internal/adapters/fswatch"
	"github.com/NazgoooAtanasov/upy/internal/adapters/webdav"
	"github.com/NazgoooAtanasov/upy/internal/app"
	"github.com/NazgoooAtanasov/upy/internal/discovery"
	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/packager"
	"github.com/NazgoooAtanasov/upy/internal/pathnorm"
)

// State is the position of a cartridge in its sync pipeline.
type State = domain.CartridgeState

// Cartridge states.
const (
	StateDiscovered = domain.StateDiscovered
	StatePackaging  = domain.StatePackaging
	StateDeploying  = domain.StateDeploying
	StateWatching   = domain.StateWatching
	StateTerminated = domain.StateTerminated
	StateFailed     = domain.StateFailed
)

// Config holds the settings of a sync run. It is not modified after New.
type Config struct {
	// WorkDir is searched for cartridges.
	WorkDir string
	// OutDir receives the archives of the initial upload. It is emptied
	// at the start of every upload and created if missing.
	OutDir string

	Hostname string
	Username string
	Password string
	Version  string
	// BaseURL replaces https://<Hostname>.
	BaseURL string

	// Cartridges keeps only cartridges whose name contains one of these.
	Cartridges []string
	// Exclusions prunes directories whose path contains one of these.
	// Nil means discovery.DefaultExclusions.
	Exclusions []string

	Compress bool
	Upload   bool
	Watch    bool

	Concurrency    int
	CoalesceWindow time.Duration
	HTTPTimeout    time.Duration
	ShutdownGrace  time.Duration

	// KeepParents keeps this many directories in front of the "cartridge"
	// segment of remote paths.
	KeepParents int
}

// Syncer runs one sync.
type Syncer struct {
	cfg          Config
	opts         options
	orchestrator *app.Orchestrator
}

// New validates cfg and wires a Syncer.
func New(cfg Config, opts ...Option) (*Syncer, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("%w: work dir is required", domain.ErrInvalidConfig)
	}
	if cfg.Hostname == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: hostname is required", domain.ErrInvalidConfig)
	}
	if cfg.OutDir == "" {
		cfg.OutDir = packager.DefaultOutDir
	}
	if cfg.Exclusions == nil {
		cfg.Exclusions = discovery.DefaultExclusions
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}

	norm := pathnorm.Default()
	norm.KeepParents = cfg.KeepParents

	orch := app.NewOrchestrator(app.Config{
		Root:           cfg.WorkDir,
		Upload:         cfg.Upload,
		Watch:          cfg.Watch,
		Concurrency:    cfg.Concurrency,
		CoalesceWindow: cfg.CoalesceWindow,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, app.Deps{
		Discoverer: discovery.New(o.fs, discovery.Options{
			Exclusions: cfg.Exclusions,
			Inclusions: cfg.Cartridges,
		}, o.logger),
		Packager: packager.New(o.fs, packager.Options{
			OutDir:   cfg.OutDir,
			Compress: cfg.Compress,
		}, o.logger),
		Store: webdav.New(webdav.Config{
			Hostname: cfg.Hostname,
			Username: cfg.Username,
			Password: cfg.Password,
			Version:  cfg.Version,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.HTTPTimeout,
		}, o.httpClient, o.fs, o.logger),
		Watchers:   fswatch.NewFactory(fswatch.Options{Exclusions: cfg.Exclusions}, o.logger),
		Normalizer: norm,
		Logger:     o.logger,
		Clock:      o.clock,
		Observer:   o.observer,
	})

	return &Syncer{cfg: cfg, opts: o, orchestrator: orch}, nil
}

// Run performs the sync. See the package documentation for which errors
// end a run.
func (s *Syncer) Run(ctx context.Context) error {
	if s.uploads() {
		if err := s.opts.fs.MkdirAll(s.cfg.OutDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	err := s.orchestrator.Run(ctx)
	if errors.Is(err, domain.ErrShutdownTimeout) {
		s.opts.logger.Warn("in-flight operations abandoned at shutdown")
	}
	return err
}

// States returns the current state of every discovered cartridge.
func (s *Syncer) States() map[string]State {
	return s.orchestrator.States()
}

// RunID identifies the run in log output.
func (s *Syncer) RunID() string {
	return s.orchestrator.RunID()
}

func (s *Syncer) uploads() bool {
	return s.cfg.Upload || !s.cfg.Watch
}
