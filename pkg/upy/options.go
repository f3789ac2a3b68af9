package upy

import (
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/NazgoooAtanasov/upy/internal/app"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// StateObserver is notified whenever a cartridge changes state.
type StateObserver = app.StateObserver

// Option configures optional behavior of a Syncer.
type Option func(*options)

type options struct {
	httpClient ports.HTTPClient
	logger     log.Logger
	fs         afero.Fs
	clock      clockwork.Clock
	observer   StateObserver
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
		fs:     afero.NewOsFs(),
		clock:  clockwork.NewRealClock(),
	}
}

// WithHTTPClient sets a custom HTTP client for the WebDAV endpoint.
// If not provided, a default client is used and Config.HTTPTimeout bounds
// each request.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFs replaces the filesystem cartridges are discovered in, packed from
// and uploaded from. Watching always uses the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithClock replaces the clock used for debouncing and shutdown.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithStateObserver registers an observer for cartridge state changes.
// It is called synchronously from the goroutine making the change.
func WithStateObserver(observer StateObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}
