package catalog

import (
	"context"
	"time"

	"github.com/git-pkgs/nugetmirror/client"
	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/feed"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// DefaultMaxThreads bounds the in-flight page and download fetches of a
// reader session.
const DefaultMaxThreads = 16

// Reader is one catalog traversal session over a feed. It owns the
// service index, the intern pool, and the URL builder shared by every
// entry it produces; entries must not outlive their reader.
type Reader struct {
	client     fetch.Client
	index      *feed.ServiceIndex
	urls       *client.URLBuilder
	pool       *core.InternPool
	maxThreads int
	log        logging.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxThreads bounds concurrent page fetches (lower bound 1).
func WithMaxThreads(n int) ReaderOption {
	return func(r *Reader) {
		if n >= 1 {
			r.maxThreads = n
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(log logging.Logger) ReaderOption {
	return func(r *Reader) {
		r.log = log
	}
}

// WithInternPool shares an existing intern pool across readers.
func WithInternPool(pool *core.InternPool) ReaderOption {
	return func(r *Reader) {
		r.pool = pool
	}
}

// NewReader resolves the feed's service index and prepares a traversal
// session.
func NewReader(ctx context.Context, indexURI string, c fetch.Client, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		client:     c,
		maxThreads: DefaultMaxThreads,
		log:        logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = core.NewInternPool()
	}

	index, err := feed.LoadServiceIndex(ctx, c, indexURI, r.log)
	if err != nil {
		return nil, err
	}
	r.index = index

	packageBase, err := index.PackageBaseURI()
	if err != nil {
		return nil, err
	}
	registrationBase, err := index.RegistrationBaseURI()
	if err != nil {
		return nil, err
	}
	r.urls = client.NewURLBuilder(packageBase, registrationBase)

	return r, nil
}

// ServiceIndex returns the resolved service index.
func (r *Reader) ServiceIndex() *feed.ServiceIndex {
	return r.index
}

// URLs returns the session URL builder.
func (r *Reader) URLs() *client.URLBuilder {
	return r.urls
}

// Pool returns the session intern pool.
func (r *Reader) Pool() *core.InternPool {
	return r.pool
}

// Pages lists every catalog page sorted ascending by commit timestamp.
func (r *Reader) Pages(ctx context.Context) ([]Page, error) {
	return r.pages(ctx)
}

// Entries returns the catalog entries whose commit timestamp t
// satisfies start < t <= end. Output order is unspecified.
func (r *Reader) Entries(ctx context.Context, start, end time.Time) ([]*core.CatalogEntry, error) {
	pages, err := r.pages(ctx)
	if err != nil {
		return nil, err
	}
	return r.entries(ctx, selectPages(pages, start, end), start, end)
}

// AllEntries traverses the complete catalog.
func (r *Reader) AllEntries(ctx context.Context) ([]*core.CatalogEntry, error) {
	return r.Entries(ctx, time.Time{}, maxTime())
}

// FlattenedEntries traverses the window and collapses the events into
// the live entry set, sorted descending by commit timestamp.
func (r *Reader) FlattenedEntries(ctx context.Context, start, end time.Time) ([]*core.CatalogEntry, error) {
	entries, err := r.Entries(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return Flatten(entries), nil
}

// FlattenedAllEntries collapses the complete catalog.
func (r *Reader) FlattenedAllEntries(ctx context.Context) ([]*core.CatalogEntry, error) {
	return r.FlattenedEntries(ctx, time.Time{}, maxTime())
}

// PackageSet traverses the window and groups the live entries into
// id -> ascending versions.
func (r *Reader) PackageSet(ctx context.Context, start, end time.Time) (map[string][]*core.Version, error) {
	flat, err := r.FlattenedEntries(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return PackageSet(flat), nil
}

// NupkgURI returns the archive URI for an entry.
func (r *Reader) NupkgURI(e *core.CatalogEntry) string {
	return r.urls.Nupkg(e.ID, e.Version.Path())
}

// NuspecURI returns the standalone manifest URI for an entry.
func (r *Reader) NuspecURI(e *core.CatalogEntry) string {
	return r.urls.Nuspec(e.ID, e.Version.Path())
}

// RegistrationIndexURI returns the per-id registration index URI for an
// entry.
func (r *Reader) RegistrationIndexURI(e *core.CatalogEntry) string {
	return r.urls.RegistrationIndex(e.ID)
}

// RegistrationLeafURI returns the per-version registration leaf URI.
func (r *Reader) RegistrationLeafURI(e *core.CatalogEntry) string {
	return r.urls.RegistrationLeaf(e.ID, e.Version.Path())
}

// DownloadNupkg fetches the entry's archive into the fetch cache and
// returns the cached path.
func (r *Reader) DownloadNupkg(ctx context.Context, e *core.CatalogEntry) (string, error) {
	return r.client.GetNupkg(ctx, r.NupkgURI(e), r.log)
}

// Listed fetches the registration leaf and reports whether the version
// is listed. A leaf without the field counts as listed.
func (r *Reader) Listed(ctx context.Context, e *core.CatalogEntry) (bool, error) {
	doc, err := r.client.GetJSON(ctx, r.RegistrationLeafURI(e), r.log)
	if err != nil {
		return false, err
	}
	if listed, ok := doc["listed"].(bool); ok {
		return listed, nil
	}
	return true, nil
}

// maxTime is far enough in the future to act as an unbounded upper
// window edge.
func maxTime() time.Time {
	return time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
}
