// Package nugetmirror reads NuGet v3 feeds and mirrors them to disk.
//
// The package traverses a feed's catalog (the append-only event log of
// publish, edit, and delete operations), collapses it into the set of
// currently live packages, and downloads package archives into a
// deterministic local layout, resuming from a persisted cursor.
//
// Basic usage:
//
//	import (
//		"context"
//		"fmt"
//		"log"
//		"github.com/git-pkgs/nugetmirror"
//		"github.com/git-pkgs/nugetmirror/fetch"
//	)
//
//	client := fetch.NewFetcher()
//	reader, err := nugetmirror.NewReader(context.Background(),
//		"https://api.nuget.org/v3/index.json", client)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	entries, err := reader.FlattenedAllEntries(context.Background())
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, e := range entries {
//		fmt.Println(e.ID, e.Version.Normalized())
//	}
package nugetmirror

import (
	"context"
	"time"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/feed"
	"github.com/git-pkgs/nugetmirror/internal/mirror"
	"github.com/git-pkgs/nugetmirror/internal/validate"
)

// Re-export the core types.
type (
	// CatalogEntry is one publish/edit/delete event from the catalog.
	CatalogEntry = core.CatalogEntry

	// Identity keys an entry by lowercased id and normalized version.
	Identity = core.Identity

	// Version is a NuGet package version.
	Version = core.Version

	// InternPool deduplicates strings, timestamps, and versions across
	// catalog entries.
	InternPool = core.InternPool

	// ServiceIndex maps service type strings onto base URIs.
	ServiceIndex = feed.ServiceIndex

	// Reader is a catalog traversal session.
	Reader = catalog.Reader

	// ReaderOption configures a Reader.
	ReaderOption = catalog.ReaderOption

	// Page is one leaf of the catalog root.
	Page = catalog.Page

	// FlatReader enumerates packages on feeds without a catalog.
	FlatReader = feed.FlatReader

	// Mirror replicates a feed into local storage roots.
	Mirror = mirror.Mirror

	// MirrorSettings configures a mirror run.
	MirrorSettings = mirror.Settings

	// RunResult summarizes one mirror run.
	RunResult = mirror.RunResult

	// ValidationReport aggregates a validation run.
	ValidationReport = validate.Report
)

// Error taxonomy.
var (
	ErrNotFound       = core.ErrNotFound
	ErrRetryable      = core.ErrRetryable
	ErrContentInvalid = core.ErrContentInvalid
)

// Reader options.
var (
	WithMaxThreads = catalog.WithMaxThreads
	WithLogger     = catalog.WithLogger
	WithInternPool = catalog.WithInternPool
)

// Layout and download mode selection.
const (
	LayoutV2         = mirror.LayoutV2
	LayoutV3         = mirror.LayoutV3
	FailIfExists     = mirror.FailIfExists
	SkipIfExists     = mirror.SkipIfExists
	OverwriteIfNewer = mirror.OverwriteIfNewer
	Force            = mirror.Force
)

// NewReader resolves a feed's service index and prepares a catalog
// traversal session.
func NewReader(ctx context.Context, indexURI string, client fetch.Client, opts ...ReaderOption) (*Reader, error) {
	return catalog.NewReader(ctx, indexURI, client, opts...)
}

// NewMirror prepares a mirror over a feed.
func NewMirror(ctx context.Context, settings MirrorSettings, client fetch.Client) (*Mirror, error) {
	return mirror.New(ctx, settings, client)
}

// Flatten collapses catalog events into the currently live entry set.
func Flatten(entries []*CatalogEntry) []*CatalogEntry {
	return catalog.Flatten(entries)
}

// PackageSet groups flattened entries by id into ascending version
// lists.
func PackageSet(entries []*CatalogEntry) map[string][]*Version {
	return catalog.PackageSet(entries)
}

// ParseVersion parses a NuGet version string.
func ParseVersion(s string) (*Version, error) {
	return core.ParseVersion(s)
}

// ParseTimestamp parses an ISO-8601 catalog timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return core.ParseTimestamp(s)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components. Supports
// both package PURLs (pkg:nuget/serilog) and version PURLs
// (pkg:nuget/serilog@3.1.0).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}
