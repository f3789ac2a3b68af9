// Package pathnorm maps local file paths onto the remote-relative paths the
// content server understands.
package pathnorm

import (
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/NazgoooAtanasov/upy/internal/domain"
)

// DefaultBoundary is the directory every cartridge keeps its deployable code in.
const DefaultBoundary = "cartridge"

// Normalizer strips the local part of a path up to the boundary segment.
// The zero value is not usable; start from Default.
type Normalizer struct {
	// Boundary is the segment that starts the remote-relative path.
	Boundary string

	// Separator joins the segments of the returned path.
	Separator string

	// CaseInsensitive compares segments to Boundary with case folding.
	CaseInsensitive bool

	// MatchContains accepts a segment that contains Boundary rather than
	// equals it.
	MatchContains bool

	// KeepParents keeps this many segments in front of the boundary segment.
	// 1 keeps the cartridge name, which is where an unpacked archive lands.
	KeepParents int
}

// Default returns a case-sensitive exact-match normalizer on "cartridge".
func Default() Normalizer {
	return Normalizer{
		Boundary:  DefaultBoundary,
		Separator: "/",
	}
}

// Normalize returns the suffix of localPath that starts at its deepest
// boundary segment, e.g. /src/app1/cartridge/x.js -> cartridge/x.js.
// A path without a boundary segment yields a *domain.PathNormalizationError.
func (n Normalizer) Normalize(localPath string) (string, error) {
	segments := n.segments(localPath)

	idx := -1
	for i := len(segments) - 1; i >= 0; i-- {
		if n.isBoundary(segments[i]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", &domain.PathNormalizationError{Path: localPath, Boundary: n.Boundary}
	}

	start := idx - n.KeepParents
	if start < 0 {
		start = 0
	}
	return strings.Join(segments[start:], n.separator()), nil
}

// segments splits p on both the OS separator and the configured one, after
// expanding a leading "~". Empty, "." and "~" segments carry no meaning
// remotely and are dropped.
func (n Normalizer) segments(p string) []string {
	if expanded, err := homedir.Expand(p); err == nil {
		p = expanded
	}
	p = filepath.ToSlash(p)
	if sep := n.separator(); sep != "/" {
		p = strings.ReplaceAll(p, sep, "/")
	}

	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" || s == "." || s == "~" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (n Normalizer) isBoundary(segment string) bool {
	boundary := n.Boundary
	if n.CaseInsensitive {
		segment = strings.ToLower(segment)
		boundary = strings.ToLower(boundary)
	}
	if n.MatchContains {
		return strings.Contains(segment, boundary)
	}
	return segment == boundary
}

func (n Normalizer) separator() string {
	if n.Separator == "" {
		return "/"
	}
	return n.Separator
}
