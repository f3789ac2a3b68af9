package ports

import "github.com/NazgoooAtanasov/upy/internal/domain"

// Discoverer finds cartridge roots under a directory tree.
type Discoverer interface {
	// Discover returns the cartridges found under root, keyed by name.
	// An error means root itself could not be walked.
	Discover(root string) (map[string]domain.Cartridge, error)

	// Skipped returns the unreadable directories the last Discover passed over.
	Skipped() []error
}

// Packager turns cartridges into archives.
type Packager interface {
	// ResetOutputDirectory removes every previous archive.
	ResetOutputDirectory() error

	// Pack builds the archive for one cartridge.
	Pack(c domain.Cartridge) (domain.Archive, error)
}
