package ports

// PathNormalizer maps a local path to its remote-relative form.
type PathNormalizer interface {
	Normalize(localPath string) (string, error)
}
