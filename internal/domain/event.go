package domain

import (
	"path/filepath"
	"strings"
)

// EventKind classifies a filesystem change.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventRemoved
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "Created"
	case EventModified:
		return "Modified"
	case EventRemoved:
		return "Removed"
	default:
		return "Unknown"
	}
}

// WatchEvent is a filesystem change raised by a cartridge watcher.
type WatchEvent struct {
	Kind  EventKind
	Paths []string
}

// Verb is a remote primitive.
type Verb int

const (
	VerbPut Verb = iota + 1
	VerbDelete
	VerbMkcol
)

// String returns the wire name of the verb.
func (v Verb) String() string {
	switch v {
	case VerbPut:
		return "PUT"
	case VerbDelete:
		return "DELETE"
	case VerbMkcol:
		return "MKCOL"
	default:
		return "UNKNOWN"
	}
}

// RemoteOp is one remote operation derived from a watch event.
type RemoteOp struct {
	Verb       Verb
	Cartridge  string
	LocalPath  string
	RemotePath string
}

// LooksLikeFile reports whether the final segment of path contains a dot.
// Watch events carry no reliable type information once a path is gone, so
// files and directories are told apart by name alone.
func LooksLikeFile(path string) bool {
	return strings.Contains(filepath.Base(path), ".")
}

// VerbFor maps an event kind on a path to the remote verb that mirrors it.
func VerbFor(kind EventKind, path string) Verb {
	if kind == EventRemoved {
		return VerbDelete
	}
	if LooksLikeFile(path) {
		return VerbPut
	}
	return VerbMkcol
}
