package ports

import (
	"context"

	"github.com/NazgoooAtanasov/upy/internal/domain"
)

// Watcher streams filesystem changes below one cartridge root.
type Watcher interface {
	// Events delivers changes until the watcher is closed.
	Events() <-chan domain.WatchEvent

	// Errors delivers non-fatal watcher errors.
	Errors() <-chan error

	// Close stops watching and closes both channels.
	Close() error
}

// WatcherFactory starts a recursive watcher for a cartridge.
// A returned error is a *domain.WatchRegistrationError.
type WatcherFactory interface {
	Watch(ctx context.Context, c domain.Cartridge) (Watcher, error)
}
