// Package validate checks that every live entry of a feed has a
// reachable archive.
package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// FailureKind classifies a validation failure.
type FailureKind string

const (
	KindMissing   FailureKind = "missing"
	KindTransport FailureKind = "transport"
)

// Failure is one unreachable archive.
type Failure struct {
	ID      string
	Version string
	URI     string
	Kind    FailureKind
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %s archive %s", f.ID, f.Version, f.Kind, f.URI)
}

// Report aggregates a validation run.
type Report struct {
	// Checked is the number of live entries probed.
	Checked int
	// Failures sorted case-insensitively by id, then version.
	Failures []Failure
	// Counts per failure kind.
	Counts map[FailureKind]int
}

// OK reports whether the run collected no failures.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Err returns the flattened failure aggregate, nil when OK.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	var agg *multierror.Error
	for _, f := range r.Failures {
		agg = multierror.Append(agg, f)
	}
	return agg.ErrorOrNil()
}

// Run traverses and flattens the window, then issues a reachability
// probe for every entry's archive URI with bounded concurrency.
func Run(ctx context.Context, reader *catalog.Reader, client fetch.Client, start, end time.Time, maxThreads int, log logging.Logger) (*Report, error) {
	flat, err := reader.FlattenedEntries(ctx, start, end)
	if err != nil {
		return nil, err
	}

	if maxThreads < 1 {
		maxThreads = catalog.DefaultMaxThreads
	}

	var (
		mu       sync.Mutex
		failures []Failure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxThreads)

	for _, e := range flat {
		g.Go(func() error {
			uri := reader.NupkgURI(e)
			ok, err := client.Exists(gctx, uri, log)
			if ok {
				return nil
			}

			f := Failure{
				ID:      e.ID,
				Version: e.Version.Normalized(),
				URI:     uri,
				Err:     err,
			}
			switch {
			case err == nil, errors.Is(err, core.ErrNotFound):
				f.Kind = KindMissing
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				f.Kind = KindTransport
			}

			mu.Lock()
			failures = append(failures, f)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(failures, func(i, j int) bool {
		a, b := strings.ToLower(failures[i].ID), strings.ToLower(failures[j].ID)
		if a != b {
			return a < b
		}
		return failures[i].Version < failures[j].Version
	})

	report := &Report{
		Checked:  len(flat),
		Failures: failures,
		Counts:   make(map[FailureKind]int),
	}
	for _, f := range failures {
		report.Counts[f.Kind]++
	}
	return report, nil
}
