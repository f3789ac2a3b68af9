// Package webdav implements ports.RemoteStore against the cartridge WebDAV
// endpoint of a content server.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

const (
	cartridgesEndpoint = "/on/demandware.servlet/webdav/Sites/Cartridges/"

	methodMkcol = "MKCOL"

	// maxErrorBody caps how much of an error response ends up in logs.
	maxErrorBody = 512
)

// Config holds the remote endpoint and credentials. It is not modified
// after construction.
type Config struct {
	Hostname string
	Username string
	Password string
	// Version is the code version directory cartridges are uploaded into.
	Version string

	// BaseURL replaces https://<Hostname> when set.
	BaseURL string

	// Timeout bounds each request. Zero leaves it to the HTTP client.
	Timeout time.Duration
}

// Client implements ports.RemoteStore using WebDAV verbs.
type Client struct {
	cfg    Config
	base   string
	client ports.HTTPClient
	fs     afero.Fs
	logger log.Logger
}

var _ ports.RemoteStore = (*Client)(nil)

// New creates a WebDAV client. Local files passed to PutFile and
// DeployArchive are read from fs.
func New(cfg Config, client ports.HTTPClient, fs afero.Fs, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://" + cfg.Hostname
	}
	return &Client{
		cfg:    cfg,
		base:   base + cartridgesEndpoint + url.PathEscape(cfg.Version) + "/",
		client: client,
		fs:     fs,
		logger: logger,
	}
}

// URL returns the absolute URL of a remote path.
func (c *Client) URL(remotePath string) string {
	segments := strings.Split(strings.Trim(remotePath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.base + strings.Join(segments, "/")
}

// PutFile streams the local file to remotePath.
func (c *Client) PutFile(ctx context.Context, localPath, remotePath string) error {
	f, err := c.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	return c.do(ctx, http.MethodPut, remotePath, func(req *http.Request) {
		req.ContentLength = info.Size()
		if info.Size() == 0 {
			req.Body = http.NoBody
		} else {
			req.Body = io.NopCloser(f)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
	})
}

// DeletePath removes remotePath. A 404 means it is already gone.
func (c *Client) DeletePath(ctx context.Context, remotePath string) error {
	return c.do(ctx, http.MethodDelete, remotePath, nil, http.StatusNotFound)
}

// MakeDirectory creates remotePath. A 405 means the collection already exists.
func (c *Client) MakeDirectory(ctx context.Context, remotePath string) error {
	return c.do(ctx, methodMkcol, remotePath, nil, http.StatusMethodNotAllowed)
}

// RequestUnpack asks the server to expand an uploaded archive in place.
func (c *Client) RequestUnpack(ctx context.Context, remoteArchiveName string) error {
	form := url.Values{"method": {"UNZIP"}}.Encode()
	return c.do(ctx, http.MethodPost, remoteArchiveName, func(req *http.Request) {
		req.Body = io.NopCloser(strings.NewReader(form))
		req.ContentLength = int64(len(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	})
}

// DeployArchive uploads the archive, unpacks it, then removes it.
func (c *Client) DeployArchive(ctx context.Context, localArchivePath, cartridgeName string) error {
	name := domain.ArchiveName(cartridgeName)
	logger := log.With(c.logger, log.Cartridge(cartridgeName))

	if err := c.PutFile(ctx, localArchivePath, name); err != nil {
		return &domain.DeployError{Cartridge: cartridgeName, Step: domain.StepUpload, Err: err}
	}
	logger.Debug("archive uploaded", log.Path(name))

	if err := c.RequestUnpack(ctx, name); err != nil {
		return &domain.DeployError{Cartridge: cartridgeName, Step: domain.StepUnpack, Err: err}
	}
	logger.Debug("archive unpacked", log.Path(name))

	if err := c.DeletePath(ctx, name); err != nil {
		return &domain.DeployError{Cartridge: cartridgeName, Step: domain.StepDelete, Err: err}
	}
	logger.Info("cartridge deployed")
	return nil
}

// do sends one request. Statuses in tolerated count as success.
func (c *Client) do(ctx context.Context, method, remotePath string, prepare func(*http.Request), tolerated ...int) error {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(remotePath), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if prepare != nil {
		prepare(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return classify(method, remotePath, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		log.Op(method),
		log.Path(remotePath),
		log.Int("status", resp.StatusCode),
		log.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	for _, code := range tolerated {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.RemoteAuthError{Method: method, Path: remotePath, Code: resp.StatusCode}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.RemoteStatusError{
		Method: method,
		Path:   remotePath,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}

func classify(method, remotePath string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.RemoteTimeoutError{Method: method, Path: remotePath, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &domain.RemoteTimeoutError{Method: method, Path: remotePath, Err: err}
	}
	return &domain.RemoteTransportError{Method: method, Path: remotePath, Err: err}
}
