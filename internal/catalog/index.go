// Package catalog traverses a feed's append-only catalog: page range
// selection over the time-ordered log, bounded-concurrency page reads,
// and collapsing of the event stream into the live package set.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/git-pkgs/nugetmirror/internal/core"
)

// Page is one leaf of the catalog root: a URI plus the commit metadata
// declared for the page.
type Page struct {
	URI        string
	CommitID   string
	CommitTime time.Time
	Types      []string
}

// pages fetches the catalog root and returns every page sorted
// ascending by commit timestamp. A root without items is an empty
// catalog, not an error.
func (r *Reader) pages(ctx context.Context) ([]Page, error) {
	catalogURI, err := r.index.CatalogURI()
	if err != nil {
		return nil, err
	}

	doc, err := r.client.GetJSON(ctx, catalogURI, r.log)
	if err != nil {
		return nil, fmt.Errorf("loading catalog root %s: %w", catalogURI, err)
	}

	rawItems, _ := doc["items"].([]interface{})
	pages := make([]Page, 0, len(rawItems))
	for _, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &core.ContentError{URL: catalogURI, Reason: "catalog page item is not an object"}
		}

		uri, _ := item["@id"].(string)
		commitID, _ := item["commitId"].(string)
		rawTime, _ := item["commitTimeStamp"].(string)
		if uri == "" || rawTime == "" {
			return nil, &core.ContentError{URL: catalogURI, Reason: "catalog page item missing @id or commitTimeStamp"}
		}

		commitTime, err := r.pool.Time(rawTime)
		if err != nil {
			return nil, &core.ContentError{URL: catalogURI, Reason: err.Error()}
		}

		pages = append(pages, Page{
			URI:        r.pool.String(uri),
			CommitID:   r.pool.String(commitID),
			CommitTime: commitTime,
			Types:      declaredTypes(r.pool, item),
		})
	}

	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].CommitTime.Before(pages[j].CommitTime)
	})
	return pages, nil
}

// selectPages returns the pages to read for the window (start, end].
//
// A page's declared timestamp equals the latest commit on that page.
// Because the window is right-closed and multiple commits may share a
// timestamp, the first page strictly beyond end must be included to
// guarantee that any commit with timestamp == end that happens to live
// on the next page is observed. The lower bound is exclusive, so pages
// at or below start are trimmed; the caller then re-filters entry by
// entry, because a page whose declared timestamp is > start may still
// contain some earlier entries from an earlier commit on the same page.
func selectPages(pages []Page, start, end time.Time) []Page {
	var (
		selected []Page
		next     *Page
	)
	for i := range pages {
		p := pages[i]
		switch {
		case p.CommitTime.After(end):
			if next == nil || p.CommitTime.Before(next.CommitTime) {
				next = &pages[i]
			}
		case p.CommitTime.After(start):
			selected = append(selected, p)
		}
	}
	if next != nil {
		selected = append(selected, *next)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].CommitTime.Before(selected[j].CommitTime)
	})
	return selected
}

func declaredTypes(pool *core.InternPool, item map[string]interface{}) []string {
	switch t := item["@type"].(type) {
	case string:
		return []string{pool.String(t)}
	case []interface{}:
		types := make([]string, 0, len(t))
		for _, one := range t {
			if s, ok := one.(string); ok {
				types = append(types, pool.String(s))
			}
		}
		return types
	}
	return nil
}
