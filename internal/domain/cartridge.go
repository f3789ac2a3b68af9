package domain

import "path/filepath"

// MarkerToken is the substring that identifies a cartridge marker file.
// Any directory entry whose name contains it makes its parent a cartridge root.
const MarkerToken = ".project"

// Cartridge is a deployable unit of code rooted at a local directory.
type Cartridge struct {
	// Name is the last path segment of Path and the key used remotely.
	Name string

	// Path is the local root directory of the cartridge.
	Path string
}

// NewCartridge derives the cartridge name from the last segment of path.
func NewCartridge(path string) Cartridge {
	path = filepath.Clean(path)
	return Cartridge{Name: filepath.Base(path), Path: path}
}

// Archive is the packaged form of a cartridge, ready for upload.
type Archive struct {
	// Cartridge is the name of the cartridge the archive was built from.
	Cartridge string

	// Path is the local path of the archive file.
	Path string
}

// ArchiveName returns the archive file name for a cartridge.
func ArchiveName(cartridge string) string {
	return cartridge + ".zip"
}
