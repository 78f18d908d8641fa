package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// CircuitBreakerFetcher wraps a Fetcher with per-host circuit breakers,
// so a feed host that starts failing hard stops being hammered by the
// mirror's worker pool.
type CircuitBreakerFetcher struct {
	fetcher  *Fetcher
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewCircuitBreakerFetcher creates a circuit breaker wrapper around f.
func NewCircuitBreakerFetcher(f *Fetcher) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		fetcher:  f,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// getBreaker returns or creates the circuit breaker for a host.
func (cbf *CircuitBreakerFetcher) getBreaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	breaker, exists := cbf.breakers[host]
	cbf.mu.RUnlock()

	if exists {
		return breaker
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	if breaker, exists := cbf.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, resets on an exponential
	// schedule.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	cbf.breakers[host] = breaker
	return breaker
}

func (cbf *CircuitBreakerFetcher) call(rawURL string, op func() error) error {
	host := extractHost(rawURL)
	breaker := cbf.getBreaker(host)

	if !breaker.Ready() {
		return fmt.Errorf("circuit breaker open for host %s: %w", host, core.ErrRetryable)
	}
	return breaker.Call(op, 0)
}

// GetJSON wraps the underlying fetcher's GetJSON with circuit breaker
// logic.
func (cbf *CircuitBreakerFetcher) GetJSON(ctx context.Context, url string, log logging.Logger) (map[string]interface{}, error) {
	var doc map[string]interface{}
	err := cbf.call(url, func() error {
		var fetchErr error
		doc, fetchErr = cbf.fetcher.GetJSON(ctx, url, log)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetNupkg wraps the underlying fetcher's GetNupkg.
func (cbf *CircuitBreakerFetcher) GetNupkg(ctx context.Context, url string, log logging.Logger) (string, error) {
	var path string
	err := cbf.call(url, func() error {
		var fetchErr error
		path, fetchErr = cbf.fetcher.GetNupkg(ctx, url, log)
		return fetchErr
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// GetManifest wraps the underlying fetcher's GetManifest.
func (cbf *CircuitBreakerFetcher) GetManifest(ctx context.Context, url string, log logging.Logger) (io.Reader, error) {
	var r io.Reader
	err := cbf.call(url, func() error {
		var fetchErr error
		r, fetchErr = cbf.fetcher.GetManifest(ctx, url, log)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Exists wraps the underlying fetcher's Exists.
func (cbf *CircuitBreakerFetcher) Exists(ctx context.Context, url string, log logging.Logger) (bool, error) {
	var ok bool
	err := cbf.call(url, func() error {
		var headErr error
		ok, headErr = cbf.fetcher.Exists(ctx, url, log)
		return headErr
	})
	return ok, err
}

// ClearCache delegates to the wrapped fetcher.
func (cbf *CircuitBreakerFetcher) ClearCache() {
	cbf.fetcher.ClearCache()
}

// BreakerStates returns the state of every host breaker, for health
// reporting.
func (cbf *CircuitBreakerFetcher) BreakerStates() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range cbf.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// extractHost extracts the host from a URL for breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
