// Package ftp lists remote collections over FTP. Many public mirrors expose
// their catalog over FTP while serving the same tree over HTTP, which is the
// split this client exists for: listing happens here, transfers happen over
// HTTP.
package ftp

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/mirror_downloader/internal/listing"
	"github.com/italolelis/mirror_downloader/internal/logctx"
	goftp "github.com/jlaffaye/ftp"
)

// AnonymousUser is the conventional login for public mirrors.
const AnonymousUser = "anonymous"

type Client struct {
	Addr     string
	Username string
	Password string
	timeout  time.Duration
}

var _ listing.Lister = (*Client)(nil)

// NewClient creates an FTP lister for addr (host:port). An empty username
// falls back to anonymous login.
func NewClient(addr, username, password string, timeout time.Duration) *Client {
	if username == "" {
		username = AnonymousUser
	}

	return &Client{
		Addr:     addr,
		Username: username,
		Password: password,
		timeout:  timeout,
	}
}

// ListFiles connects, authenticates and returns the regular file names under
// remoteDir. Each call uses a fresh connection; FTP control sessions are too
// fragile to be worth pooling at the listing rate of a mirror pass.
func (c *Client) ListFiles(ctx context.Context, remoteDir string) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx).With("addr", c.Addr, "remote_dir", remoteDir)

	conn, err := goftp.Dial(c.Addr, goftp.DialWithContext(ctx), goftp.DialWithTimeout(c.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ftp server: %w", err)
	}

	defer func() {
		if err := conn.Quit(); err != nil {
			logger.Warn("failed to close ftp connection", "err", err)
		}
	}()

	if err := conn.Login(c.Username, c.Password); err != nil {
		return nil, fmt.Errorf("ftp login failed: %w", err)
	}

	entries, err := conn.List(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", remoteDir, err)
	}

	names := FileNames(entries)
	logger.Debug("listed remote files", "count", len(names))

	return names, nil
}

// FileNames filters a raw LIST response down to regular file names, dropping
// directories, links and the dot entries.
func FileNames(entries []*goftp.Entry) []string {
	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.Type != goftp.EntryTypeFile {
			continue
		}

		if e.Name == "." || e.Name == ".." {
			continue
		}

		names = append(names, e.Name)
	}

	return names
}
