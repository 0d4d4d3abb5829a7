package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a locator does not name an existing recording.
var ErrNotFound = errors.New("recording not found")

// Fetcher retrieves and decodes a recording. Implementations must be safe
// for concurrent use; every call may block on I/O.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Buffer, error)
}

// Loader fetches recordings from a directory or an http(s) base URL and
// decodes them. Nothing is cached: each call reads and decodes again.
type Loader struct {
	root   string
	client *http.Client
	log    zerolog.Logger
}

// NewLoader creates a loader resolving locators against root. A zero
// timeout leaves HTTP requests bounded only by the caller's context.
func NewLoader(root string, timeout time.Duration, log zerolog.Logger) *Loader {
	return &Loader{
		root:   root,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "loader").Logger(),
	}
}

// Fetch reads the recording named by locator and decodes it.
func (l *Loader) Fetch(ctx context.Context, locator string) (*Buffer, error) {
	start := time.Now()

	data, err := l.read(ctx, locator)
	if err != nil {
		return nil, err
	}

	buf, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", locator, err)
	}

	l.log.Debug().
		Str("locator", locator).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Int("sample_rate", buf.SampleRate).
		Int("channels", buf.Channels).
		Dur("length", buf.Duration()).
		Dur("took", time.Since(start)).
		Msg("Fetched recording")
	return buf, nil
}

func (l *Loader) read(ctx context.Context, locator string) ([]byte, error) {
	if isRemote(locator) {
		return l.get(ctx, locator)
	}
	if isRemote(l.root) {
		u, err := joinURL(l.root, locator)
		if err != nil {
			return nil, err
		}
		return l.get(ctx, u)
	}

	path := locator
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, filepath.FromSlash(locator))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (l *Loader) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", u, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: %s", u, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", u, err)
	}
	return data, nil
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// joinURL appends a slash-separated locator to base, escaping each segment
// so names like "Grand Piano/piano-f-d#4.wav" survive the trip.
func joinURL(base, locator string) (string, error) {
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	segments := strings.Split(strings.TrimPrefix(locator, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/"), nil
}
