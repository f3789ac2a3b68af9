package ports

import "context"

// RemoteStore mirrors local changes onto the remote content server.
// Implementations must be safe for concurrent use.
type RemoteStore interface {
	// PutFile streams the local file to remotePath.
	PutFile(ctx context.Context, localPath, remotePath string) error

	// DeletePath removes remotePath. A missing path is not an error.
	DeletePath(ctx context.Context, remotePath string) error

	// MakeDirectory creates remotePath. An existing directory is not an error.
	MakeDirectory(ctx context.Context, remotePath string) error

	// RequestUnpack expands an already-uploaded archive in place.
	RequestUnpack(ctx context.Context, remoteArchiveName string) error

	// DeployArchive uploads, unpacks and then deletes the archive, in that
	// order, stopping at the first failure.
	DeployArchive(ctx context.Context, localArchivePath, cartridgeName string) error
}
