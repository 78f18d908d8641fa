// Package core provides the shared types of the feed reader: catalog
// entries, versions, the intern pool, and the error taxonomy.
package core

import (
	"strings"
	"time"

	packageurl "github.com/package-url/packageurl-go"
)

// Declared types on catalog items.
const (
	TypePackageDetails = "nuget:PackageDetails"
	TypePackageDelete  = "nuget:PackageDelete"
)

// CatalogEntry is one publish/edit/delete event from the catalog, or a
// synthesized record from the catalog-less feed reader (in which case
// the commit fields are zero).
type CatalogEntry struct {
	// URI of the catalog leaf document.
	URI string
	// Types declared on the item, e.g. "nuget:PackageDetails".
	Types []string
	// CommitID is the opaque commit identifier.
	CommitID string
	// CommitTime is the commit timestamp, UTC.
	CommitTime time.Time
	// ID is the package id as published.
	ID string
	// Version is the parsed package version.
	Version *Version
}

// IsAddOrUpdate reports whether the entry is a publish or edit event.
func (e *CatalogEntry) IsAddOrUpdate() bool {
	return e.hasType(TypePackageDetails)
}

// IsDelete reports whether the entry is a delete event.
func (e *CatalogEntry) IsDelete() bool {
	return e.hasType(TypePackageDelete)
}

func (e *CatalogEntry) hasType(t string) bool {
	for _, declared := range e.Types {
		if declared == t {
			return true
		}
	}
	return false
}

// Identity keys an entry for equality and hashing: lowercased id plus
// the normalized version with metadata preserved. Commit id and
// timestamp are not part of identity.
type Identity struct {
	ID      string
	Version string
}

func (e *CatalogEntry) Identity() Identity {
	return Identity{
		ID:      strings.ToLower(e.ID),
		Version: strings.ToLower(e.Version.Full()),
	}
}

// PURL returns the canonical package URL for the entry, e.g.
// "pkg:nuget/newtonsoft.json@13.0.3".
func (e *CatalogEntry) PURL() string {
	p := packageurl.NewPackageURL(
		"nuget", "", strings.ToLower(e.ID), e.Version.Path(), nil, "")
	return p.ToString()
}
