package fetch

import (
	"context"
	"io"

	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// Client is the fetch abstraction the readers consume. Both *Fetcher
// and *CircuitBreakerFetcher implement it.
type Client interface {
	GetJSON(ctx context.Context, url string, log logging.Logger) (map[string]interface{}, error)
	GetNupkg(ctx context.Context, url string, log logging.Logger) (string, error)
	GetManifest(ctx context.Context, url string, log logging.Logger) (io.Reader, error)
	Exists(ctx context.Context, url string, log logging.Logger) (bool, error)
}

var (
	_ Client = (*Fetcher)(nil)
	_ Client = (*CircuitBreakerFetcher)(nil)
)
