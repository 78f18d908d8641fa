// Package fetch is the HTTP fabric of the feed reader: cached JSON
// document retrieval, archive downloads, manifest retrieval, and
// existence probes, with retry and per-host circuit breaking.
package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// DefaultUserAgent identifies the tool when the caller supplies none.
const DefaultUserAgent = "nugetmirror/1.0 (+https://github.com/git-pkgs/nugetmirror)"

const defaultMaxAttempts = 5

// Fetcher downloads feed documents and archives. Safe for concurrent
// use; responses are cached keyed by a URI-derived key.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	maxAttempts int
	baseDelay   time.Duration

	cacheMu sync.Mutex
	cache   *Cache
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent overrides the default User-Agent header. A caller
// supplied value is never replaced.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxAttempts sets the per-fetch attempt bound (lower bound 1).
func WithMaxAttempts(n int) Option {
	return func(f *Fetcher) {
		if n >= 1 {
			f.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the initial retry backoff interval.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithCache sets the response cache. Without it, a temp-dir cache is
// created lazily on first use by any fetch that caches.
func WithCache(c *Cache) Option {
	return func(f *Fetcher) {
		f.cache = c
	}
}

// NewFetcher creates a Fetcher. The transport resolves hosts through a
// refreshing DNS cache; feeds are polled repeatedly against the same
// couple of hosts.
func NewFetcher(opts ...Option) *Fetcher {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &Fetcher{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP")
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:   DefaultUserAgent,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Cache returns the fetcher's response cache, creating a temp-dir cache
// on first use.
func (f *Fetcher) Cache() (*Cache, error) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	if f.cache == nil {
		c, err := NewCache("", 0, 0)
		if err != nil {
			return nil, err
		}
		f.cache = c
	}
	return f.cache, nil
}

// ClearCache drops cached documents and files between mirror batches to
// cap disk use. Best effort.
func (f *Fetcher) ClearCache() {
	f.cacheMu.Lock()
	c := f.cache
	f.cacheMu.Unlock()
	if c != nil {
		c.Clear()
	}
}

// GetJSON fetches and parses a JSON document. Timestamps stay strings;
// callers parse them with core.ParseTimestamp. Parsed documents are
// cached keyed by CacheKey(url).
func (f *Fetcher) GetJSON(ctx context.Context, url string, log logging.Logger) (map[string]interface{}, error) {
	cache, err := f.Cache()
	if err != nil {
		return nil, err
	}
	return cache.GetOrSetDoc(CacheKey(url), func() (map[string]interface{}, error) {
		var doc map[string]interface{}
		err := f.retry(ctx, func() error {
			body, err := f.do(ctx, url, log)
			if err != nil {
				return err
			}
			defer body.Close()

			dec := json.NewDecoder(body)
			dec.UseNumber()
			if err := dec.Decode(&doc); err != nil {
				return backoff.Permanent(&core.ContentError{URL: url, Reason: fmt.Sprintf("JSON parse: %v", err)})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// GetNupkg downloads a package archive into the cache and returns the
// cached file path. The archive is validated by opening it and locating
// its manifest entry; a failure to open invalidates the cached file and
// counts as retryable.
func (f *Fetcher) GetNupkg(ctx context.Context, url string, log logging.Logger) (string, error) {
	cache, err := f.Cache()
	if err != nil {
		return "", err
	}
	path := cache.FilePath(CacheKey(url))

	if validateNupkg(path) == nil {
		log.WithField("path", path).Trace("nupkg cache hit")
		return path, nil
	}

	err = f.retry(ctx, func() error {
		body, err := f.do(ctx, url, log)
		if err != nil {
			return err
		}
		defer body.Close()

		if err := writeFileAtomic(path, body); err != nil {
			return backoff.Permanent(err)
		}
		if err := validateNupkg(path); err != nil {
			os.Remove(path)
			return fmt.Errorf("invalid archive from %s: %v: %w", url, err, core.ErrRetryable)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// GetManifest fetches a standalone nuspec document and verifies it is
// well-formed XML before returning a reader over its bytes.
func (f *Fetcher) GetManifest(ctx context.Context, url string, log logging.Logger) (io.Reader, error) {
	var buf []byte
	err := f.retry(ctx, func() error {
		body, err := f.do(ctx, url, log)
		if err != nil {
			return err
		}
		defer body.Close()

		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading manifest from %s: %v: %w", url, err, core.ErrRetryable)
		}
		dec := xml.NewDecoder(bytes.NewReader(data))
		for {
			_, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return backoff.Permanent(&core.ContentError{URL: url, Reason: fmt.Sprintf("XML parse: %v", err)})
			}
		}
		buf = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

// Exists issues a HEAD request. A 404 reports false with no error.
func (f *Fetcher) Exists(ctx context.Context, url string, log logging.Logger) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %v: %w", url, err, core.ErrRetryable)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, &core.HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
}

// retry runs op with exponential backoff up to the configured attempt
// bound. NotFound and content errors are surfaced immediately via
// backoff.Permanent; context cancellation escapes the loop.
func (f *Fetcher) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}

// do issues a single GET and maps the status code onto the error
// taxonomy. The returned body must be closed by the caller.
func (f *Fetcher) do(ctx context.Context, url string, log logging.Logger) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	f.setHeaders(req)

	log.WithField("url", url).Trace("GET")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("fetching %s: %v: %w", url, err, core.ErrRetryable)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil

	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, backoff.Permanent(&core.HTTPError{StatusCode: resp.StatusCode, URL: url})

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, &core.HTTPError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}
}

func (f *Fetcher) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "*/*")
}

// validateNupkg opens the archive and confirms a manifest entry is
// present at the archive root.
func validateNupkg(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if strings.HasSuffix(entry.Name, ".nuspec") && !strings.Contains(entry.Name, "/") {
			return nil
		}
	}
	return errors.New("no manifest entry in archive")
}

// writeFileAtomic stages the payload in a unique temp sibling and
// renames it into place, so concurrent writers of the same key cannot
// observe a torn file.
func writeFileAtomic(path string, r io.Reader) error {
	out, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := out.Name()
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
