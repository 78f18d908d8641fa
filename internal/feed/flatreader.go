package feed

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/nugetmirror/client"
	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// FlatReader enumerates packages through the package-base-address
// service alone, for repositories that publish no catalog. Entries it
// produces carry no commit metadata.
type FlatReader struct {
	client     fetch.Client
	urls       *client.URLBuilder
	pool       *core.InternPool
	maxThreads int
	log        logging.Logger
}

// NewFlatReader creates a catalog-less reader over a feed's package
// base address.
func NewFlatReader(c fetch.Client, urls *client.URLBuilder, pool *core.InternPool, maxThreads int, log logging.Logger) *FlatReader {
	if maxThreads < 1 {
		maxThreads = 1
	}
	if pool == nil {
		pool = core.NewInternPool()
	}
	return &FlatReader{
		client:     c,
		urls:       urls,
		pool:       pool,
		maxThreads: maxThreads,
		log:        log,
	}
}

// Versions lists the published versions of a package id, sorted
// ascending. A missing per-id index means the package does not exist on
// the feed and yields an empty list.
func (r *FlatReader) Versions(ctx context.Context, id string) ([]*core.Version, error) {
	doc, err := r.client.GetJSON(ctx, r.urls.PackageIndex(id), r.log)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	raw, _ := doc["versions"].([]interface{})
	versions := make([]*core.Version, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		v, err := r.pool.Version(s)
		if err != nil {
			return nil, &core.ContentError{URL: r.urls.PackageIndex(id), Reason: err.Error()}
		}
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) < 0
	})
	return versions, nil
}

// Entries materializes one entry per (id, version) for the given ids,
// fetching per-id indexes with bounded concurrency.
func (r *FlatReader) Entries(ctx context.Context, ids []string) ([]*core.CatalogEntry, error) {
	var (
		mu      sync.Mutex
		entries []*core.CatalogEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxThreads)

	for _, id := range ids {
		g.Go(func() error {
			versions, err := r.Versions(gctx, id)
			if err != nil {
				return err
			}
			interned := r.pool.String(id)

			mu.Lock()
			defer mu.Unlock()
			for _, v := range versions {
				entries = append(entries, &core.CatalogEntry{
					URI:     r.urls.PackageIndex(id),
					Types:   []string{core.TypePackageDetails},
					ID:      interned,
					Version: v,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
