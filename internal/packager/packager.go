// Package packager builds one zip archive per cartridge for the initial deploy.
package packager

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// DefaultOutDir is where archives are written unless configured otherwise.
const DefaultOutDir = "./outdir"

// Options configures a Packager.
type Options struct {
	// OutDir receives one <cartridge>.zip per cartridge. It must exist.
	OutDir string

	// Compress deflates entries instead of storing them.
	Compress bool
}

// Packager writes cartridge archives into a single output directory.
type Packager struct {
	fs     afero.Fs
	opts   Options
	logger log.Logger
}

// New creates a Packager that reads sources from and writes archives to fs.
func New(fs afero.Fs, opts Options, logger log.Logger) *Packager {
	if opts.OutDir == "" {
		opts.OutDir = DefaultOutDir
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Packager{fs: fs, opts: opts, logger: logger}
}

// ResetOutputDirectory deletes everything in the output directory.
// A missing output directory is an error.
func (p *Packager) ResetOutputDirectory() error {
	entries, err := afero.ReadDir(p.fs, p.opts.OutDir)
	if err != nil {
		return fmt.Errorf("reset output directory: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(p.opts.OutDir, e.Name())
		if err := p.fs.RemoveAll(path); err != nil {
			return fmt.Errorf("reset output directory: remove %s: %w", path, err)
		}
	}
	p.logger.Debug("output directory reset", log.Path(p.opts.OutDir), log.Int("removed", len(entries)))
	return nil
}

// Pack archives the cartridge tree as <OutDir>/<name>.zip. Entries are named
// <name>/<path relative to the cartridge root>; directories get their own
// entry ahead of their contents so empty ones survive the transfer.
//
// Any failure returns a *domain.PackagingError and leaves no archive behind.
func (p *Packager) Pack(c domain.Cartridge) (domain.Archive, error) {
	archivePath := filepath.Join(p.opts.OutDir, domain.ArchiveName(c.Name))

	out, err := p.fs.Create(archivePath)
	if err != nil {
		return domain.Archive{}, &domain.PackagingError{Cartridge: c.Name, Path: archivePath, Err: err}
	}

	entries, werr := p.write(out, c)
	cerr := out.Close()
	if werr == nil && cerr != nil {
		werr = &domain.PackagingError{Cartridge: c.Name, Path: archivePath, Err: cerr}
	}
	if werr != nil {
		if rerr := p.fs.Remove(archivePath); rerr != nil && !os.IsNotExist(rerr) {
			p.logger.Warn("failed to remove partial archive", log.Path(archivePath), log.Err(rerr))
		}
		return domain.Archive{}, werr
	}

	p.logger.Debug("cartridge packed",
		log.Cartridge(c.Name),
		log.Path(archivePath),
		log.Int("entries", entries),
	)
	return domain.Archive{Cartridge: c.Name, Path: archivePath}, nil
}

func (p *Packager) write(w io.Writer, c domain.Cartridge) (int, error) {
	zw := zip.NewWriter(w)
	method := zip.Store
	if p.opts.Compress {
		method = zip.Deflate
	}

	root := filepath.Clean(c.Path)
	entries := 0
	err := afero.Walk(p.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return &domain.PackagingError{Cartridge: c.Name, Path: path, Err: err}
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return &domain.PackagingError{Cartridge: c.Name, Path: path, Err: err}
		}
		name := c.Name + "/" + filepath.ToSlash(rel)

		hdr := &zip.FileHeader{
			Name:     name,
			Method:   method,
			Modified: info.ModTime(),
		}
		hdr.SetMode(info.Mode())

		if info.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
			if _, err := zw.CreateHeader(hdr); err != nil {
				return &domain.PackagingError{Cartridge: c.Name, Path: path, Err: err}
			}
			entries++
			return nil
		}
		if !info.Mode().IsRegular() {
			p.logger.Debug("skipping non-regular file", log.Cartridge(c.Name), log.Path(path))
			return nil
		}

		if err := p.copyFile(zw, hdr, path); err != nil {
			return &domain.PackagingError{Cartridge: c.Name, Path: path, Err: err}
		}
		entries++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return entries, err
	}
	if err := zw.Close(); err != nil {
		return entries, &domain.PackagingError{Cartridge: c.Name, Err: err}
	}
	return entries, nil
}

func (p *Packager) copyFile(zw *zip.Writer, hdr *zip.FileHeader, path string) error {
	src, err := p.fs.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
