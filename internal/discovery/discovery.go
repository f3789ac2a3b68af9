// Package discovery finds cartridge roots in a source tree.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// DefaultExclusions are path substrings that never contain cartridges.
var DefaultExclusions = []string{".git", "node_modules", ".svn", ".hg", ".idea", ".vscode"}

// Options controls which parts of the tree are searched and kept.
type Options struct {
	// Exclusions prune any directory whose path contains one of them.
	Exclusions []string

	// Inclusions, when non-empty, keep only cartridges whose name contains
	// one of them.
	Inclusions []string
}

// Discoverer walks a directory tree looking for .project markers.
type Discoverer struct {
	fs      afero.Fs
	opts    Options
	logger  log.Logger
	skipped []error
}

// New creates a Discoverer reading from fs.
func New(fs afero.Fs, opts Options, logger log.Logger) *Discoverer {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Discoverer{fs: fs, opts: opts, logger: logger}
}

// Discover returns every cartridge under root keyed by name. When two
// cartridges share a name, the one found later in the walk wins.
//
// Unreadable directories below root are skipped and reported by Skipped.
// Only a failure to read root itself is returned. A relative root is
// resolved against the working directory first.
func (d *Discoverer) Discover(root string) (map[string]domain.Cartridge, error) {
	d.skipped = nil
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &domain.DiscoveryIOError{Path: root, Err: err}
	}
	root = abs

	entries, err := afero.ReadDir(d.fs, root)
	if err != nil {
		return nil, &domain.DiscoveryIOError{Path: root, Err: err}
	}

	found := make(map[string]domain.Cartridge)
	if d.excluded(root) {
		return found, nil
	}
	d.visit(root, entries, found)
	return found, nil
}

// Skipped returns the directories the last Discover could not read.
func (d *Discoverer) Skipped() []error {
	return append([]error(nil), d.skipped...)
}

func (d *Discoverer) walk(dir string, acc map[string]domain.Cartridge) {
	if d.excluded(dir) {
		return
	}

	entries, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		derr := &domain.DiscoveryIOError{Path: dir, Err: err}
		d.skipped = append(d.skipped, derr)
		d.logger.Warn("skipping unreadable directory", log.Path(dir), log.Err(err))
		return
	}
	d.visit(dir, entries, acc)
}

func (d *Discoverer) visit(dir string, entries []os.FileInfo, acc map[string]domain.Cartridge) {
	for _, e := range entries {
		if strings.Contains(e.Name(), domain.MarkerToken) {
			d.record(dir, acc)
			return
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			d.walk(filepath.Join(dir, e.Name()), acc)
		}
	}
}

func (d *Discoverer) record(dir string, acc map[string]domain.Cartridge) {
	c := domain.NewCartridge(dir)
	if !d.included(c.Name) {
		d.logger.Debug("cartridge filtered out", log.Cartridge(c.Name), log.Path(dir))
		return
	}
	if prev, ok := acc[c.Name]; ok {
		d.logger.Debug("duplicate cartridge name, keeping the later one",
			log.Cartridge(c.Name),
			log.String("previous", prev.Path),
			log.Path(dir),
		)
	}
	acc[c.Name] = c
}

func (d *Discoverer) excluded(path string) bool {
	for _, ex := range d.opts.Exclusions {
		if ex != "" && strings.Contains(path, ex) {
			return true
		}
	}
	return false
}

func (d *Discoverer) included(name string) bool {
	if len(d.opts.Inclusions) == 0 {
		return true
	}
	for _, in := range d.opts.Inclusions {
		if strings.Contains(name, in) {
			return true
		}
	}
	return false
}
