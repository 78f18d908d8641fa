package catalog

import (
	"sort"
	"strings"

	"github.com/git-pkgs/nugetmirror/internal/core"
)

// Flatten collapses catalog events into the set of currently live
// entries: for each (id, version) identity the most recent add/update
// survives, unless a later delete shadows it. The result is sorted
// descending by commit timestamp.
//
// The input may arrive in any order (pages complete concurrently), so
// ties on commit timestamp break on the leaf URI, which is unique per
// event; identical catalog states flatten identically across runs.
func Flatten(entries []*core.CatalogEntry) []*core.CatalogEntry {
	sorted := make([]*core.CatalogEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CommitTime.Equal(sorted[j].CommitTime) {
			return sorted[i].CommitTime.After(sorted[j].CommitTime)
		}
		return sorted[i].URI < sorted[j].URI
	})

	live := make(map[core.Identity]struct{})
	deleted := make(map[core.Identity]struct{})
	var out []*core.CatalogEntry

	// Descending order means the first occurrence per identity wins: a
	// later add/update (in catalog time) supersedes older ones, and a
	// delete discovered later in iteration order shadows the older adds
	// behind it.
	for _, e := range sorted {
		id := e.Identity()
		switch {
		case e.IsDelete():
			deleted[id] = struct{}{}
		case e.IsAddOrUpdate():
			if _, gone := deleted[id]; gone {
				continue
			}
			if _, ok := live[id]; ok {
				continue
			}
			live[id] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// PackageSet groups flattened entries by case-insensitive id into a map
// of id to ascending-sorted versions.
func PackageSet(entries []*core.CatalogEntry) map[string][]*core.Version {
	set := make(map[string][]*core.Version)
	for _, e := range entries {
		id := strings.ToLower(e.ID)
		set[id] = append(set[id], e.Version)
	}
	for id := range set {
		versions := set[id]
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].Compare(versions[j]) < 0
		})
	}
	return set
}
