package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/nugetmirror/internal/core"
)

// entries fetches the given pages with at most maxThreads requests in
// flight, parses each page's items, and keeps the entries whose commit
// timestamp falls in (start, end]. Output order is unspecified;
// consumers sort when ordering matters.
func (r *Reader) entries(ctx context.Context, pages []Page, start, end time.Time) ([]*core.CatalogEntry, error) {
	var (
		mu   sync.Mutex
		out  []*core.CatalogEntry
		seen = make(map[entryKey]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxThreads)

	for _, page := range pages {
		g.Go(func() error {
			doc, err := r.client.GetJSON(gctx, page.URI, r.log)
			if err != nil {
				return fmt.Errorf("loading catalog page %s: %w", page.URI, err)
			}

			parsed, err := r.parsePage(page.URI, doc)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, e := range parsed {
				if !e.CommitTime.After(start) || e.CommitTime.After(end) {
					continue
				}
				key := entryKey{uri: e.URI, commitID: e.CommitID}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, e)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// entryKey de-duplicates items that appear on more than one fetched
// page, keyed by leaf URI together with commit id.
type entryKey struct {
	uri      string
	commitID string
}

// parsePage converts a catalog page document into entries, interning
// the strings repeated across items.
func (r *Reader) parsePage(pageURI string, doc map[string]interface{}) ([]*core.CatalogEntry, error) {
	rawItems, _ := doc["items"].([]interface{})
	entries := make([]*core.CatalogEntry, 0, len(rawItems))

	for _, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &core.ContentError{URL: pageURI, Reason: "catalog item is not an object"}
		}

		uri, _ := item["@id"].(string)
		commitID, _ := item["commitId"].(string)
		rawTime, _ := item["commitTimeStamp"].(string)
		id, _ := item["nuget:id"].(string)
		rawVersion, _ := item["nuget:version"].(string)
		if uri == "" || rawTime == "" || id == "" || rawVersion == "" {
			return nil, &core.ContentError{URL: pageURI, Reason: "catalog item missing required fields"}
		}

		commitTime, err := r.pool.Time(rawTime)
		if err != nil {
			return nil, &core.ContentError{URL: pageURI, Reason: err.Error()}
		}
		version, err := r.pool.Version(rawVersion)
		if err != nil {
			return nil, &core.ContentError{URL: pageURI, Reason: err.Error()}
		}

		entries = append(entries, &core.CatalogEntry{
			URI:        internURI(r.pool, uri),
			Types:      declaredTypes(r.pool, item),
			CommitID:   r.pool.String(commitID),
			CommitTime: commitTime,
			ID:         r.pool.String(id),
			Version:    version,
		})
	}
	return entries, nil
}

// internURI interns a leaf URI segment by segment; leaves under the
// same catalog share long path prefixes.
func internURI(pool *core.InternPool, uri string) string {
	segments := strings.Split(uri, "/")
	for i, s := range segments {
		segments[i] = pool.String(s)
	}
	return pool.String(strings.Join(segments, "/"))
}
