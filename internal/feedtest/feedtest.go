// Package feedtest builds in-memory NuGet v3 feeds and serves them over
// httptest for reader, mirror, and CLI tests.
package feedtest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Event is one catalog operation.
type Event struct {
	ID         string
	Version    string
	CommitID   string
	CommitTime time.Time
	Delete     bool
}

// Feed is an in-memory paged catalog plus the flat-container and
// registration layouts derived from it.
type Feed struct {
	mu       sync.Mutex
	pageSize int
	events   []Event
	unlisted map[string]bool
	hidden   map[string]bool
	commits  int
	server   *httptest.Server
}

// New creates a feed with the given catalog page size.
func New(pageSize int) *Feed {
	if pageSize < 1 {
		pageSize = 2
	}
	return &Feed{
		pageSize: pageSize,
		unlisted: make(map[string]bool),
		hidden:   make(map[string]bool),
	}
}

// HideNupkg makes the archive 404 while the catalog still lists it,
// simulating a publisher-side gap.
func (f *Feed) HideNupkg(id, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden[key(id, version)] = true
}

// Publish appends an add/update event. Re-publishing a live
// (id, version) first appends the implicit delete of the superseded
// edit, matching what a real publisher emits.
func (f *Feed) Publish(id, version string, commitTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isLive(id, version) {
		// The removal of the superseded edit lands in its own commit,
		// just before the re-add.
		f.appendEvent(Event{ID: id, Version: version, CommitTime: commitTime.Add(-time.Millisecond), Delete: true})
	}
	f.appendEvent(Event{ID: id, Version: version, CommitTime: commitTime})
}

// Delete appends a delete event.
func (f *Feed) Delete(id, version string, commitTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendEvent(Event{ID: id, Version: version, CommitTime: commitTime, Delete: true})
}

// SetListed controls the registration leaf's listed flag.
func (f *Feed) SetListed(id, version string, listed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlisted[key(id, version)] = !listed
}

func (f *Feed) appendEvent(e Event) {
	f.commits++
	if e.CommitID == "" {
		e.CommitID = fmt.Sprintf("commit-%04d", f.commits)
	}
	e.CommitTime = e.CommitTime.UTC()
	f.events = append(f.events, e)
}

func (f *Feed) isLive(id, version string) bool {
	live := false
	for _, e := range f.events {
		if strings.EqualFold(e.ID, id) && strings.EqualFold(e.Version, version) {
			live = !e.Delete
		}
	}
	return live
}

// liveSet returns id -> versions currently live, lowercased.
func (f *Feed) liveSet() map[string][]string {
	state := make(map[string]bool)
	order := []string{}
	for _, e := range f.events {
		k := key(e.ID, e.Version)
		if _, seen := state[k]; !seen {
			order = append(order, k)
		}
		state[k] = !e.Delete
	}

	set := make(map[string][]string)
	for _, k := range order {
		if !state[k] {
			continue
		}
		parts := strings.SplitN(k, "|", 2)
		set[parts[0]] = append(set[parts[0]], parts[1])
	}
	return set
}

func key(id, version string) string {
	return strings.ToLower(id) + "|" + strings.ToLower(version)
}

// Start launches the httptest server. Callers must Close it.
func (f *Feed) Start() *httptest.Server {
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f.server
}

// Close shuts the server down.
func (f *Feed) Close() {
	if f.server != nil {
		f.server.Close()
	}
}

// IndexURL returns the service index URL.
func (f *Feed) IndexURL() string {
	return f.server.URL + "/index.json"
}

func (f *Feed) base() string {
	return f.server.URL
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (f *Feed) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/index.json":
		f.writeJSON(w, f.serviceIndex())
	case path == "/catalog/index.json":
		f.writeJSON(w, f.catalogRoot())
	case strings.HasPrefix(path, "/catalog/page"):
		f.handlePage(w, strings.TrimPrefix(path, "/catalog/"))
	case strings.HasPrefix(path, "/flatcontainer/"):
		f.handleFlatContainer(w, r, strings.TrimPrefix(path, "/flatcontainer/"))
	case strings.HasPrefix(path, "/registration/"):
		f.handleRegistration(w, strings.TrimPrefix(path, "/registration/"))
	default:
		http.NotFound(w, r)
	}
}

func (f *Feed) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Feed) serviceIndex() map[string]interface{} {
	return map[string]interface{}{
		"version": "3.0.0",
		"resources": []map[string]interface{}{
			{"@id": f.base() + "/catalog/index.json", "@type": "Catalog/3.0.0"},
			{"@id": f.base() + "/flatcontainer/", "@type": "PackageBaseAddress/3.0.0"},
			{"@id": f.base() + "/registration/", "@type": "RegistrationsBaseUrl/3.6.0"},
		},
	}
}

// pages slices the event log into page-size chunks in publish order.
func (f *Feed) pages() [][]Event {
	var pages [][]Event
	for i := 0; i < len(f.events); i += f.pageSize {
		end := i + f.pageSize
		if end > len(f.events) {
			end = len(f.events)
		}
		pages = append(pages, f.events[i:end])
	}
	return pages
}

func (f *Feed) catalogRoot() map[string]interface{} {
	items := []map[string]interface{}{}
	for i, page := range f.pages() {
		last := page[len(page)-1]
		items = append(items, map[string]interface{}{
			"@id":             fmt.Sprintf("%s/catalog/page%d.json", f.base(), i),
			"@type":           "CatalogPage",
			"commitId":        last.CommitID,
			"commitTimeStamp": ts(last.CommitTime),
			"count":           len(page),
		})
	}
	return map[string]interface{}{
		"@id":             f.base() + "/catalog/index.json",
		"commitId":        "root",
		"commitTimeStamp": ts(time.Now()),
		"count":           len(items),
		"items":           items,
	}
}

func (f *Feed) handlePage(w http.ResponseWriter, name string) {
	var n int
	if _, err := fmt.Sscanf(name, "page%d.json", &n); err != nil {
		http.Error(w, "bad page", http.StatusNotFound)
		return
	}
	pages := f.pages()
	if n < 0 || n >= len(pages) {
		http.Error(w, "no such page", http.StatusNotFound)
		return
	}
	page := pages[n]

	items := []map[string]interface{}{}
	for i, e := range page {
		entryType := "nuget:PackageDetails"
		if e.Delete {
			entryType = "nuget:PackageDelete"
		}
		items = append(items, map[string]interface{}{
			"@id": fmt.Sprintf("%s/catalog/data/%d-%d/%s.%s.json",
				f.base(), n, i, strings.ToLower(e.ID), strings.ToLower(e.Version)),
			"@type":           entryType,
			"commitId":        e.CommitID,
			"commitTimeStamp": ts(e.CommitTime),
			"nuget:id":        e.ID,
			"nuget:version":   e.Version,
		})
	}
	last := page[len(page)-1]
	f.writeJSON(w, map[string]interface{}{
		"@id":             fmt.Sprintf("%s/catalog/page%d.json", f.base(), n),
		"commitId":        last.CommitID,
		"commitTimeStamp": ts(last.CommitTime),
		"count":           len(items),
		"items":           items,
	})
}

func (f *Feed) handleFlatContainer(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	live := f.liveSet()

	switch {
	case len(parts) == 2 && parts[1] == "index.json":
		versions, ok := live[strings.ToLower(parts[0])]
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.writeJSON(w, map[string]interface{}{"versions": versions})

	case len(parts) == 3 && strings.HasSuffix(parts[2], ".nupkg"):
		id, version := strings.ToLower(parts[0]), strings.ToLower(parts[1])
		found := false
		for _, v := range live[id] {
			if v == version {
				found = true
			}
		}
		if !found || f.hidden[key(id, version)] || parts[2] != fmt.Sprintf("%s.%s.nupkg", id, version) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(NupkgBytes(id, version))

	default:
		http.NotFound(w, r)
	}
}

func (f *Feed) handleRegistration(w http.ResponseWriter, rest string) {
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 {
		http.Error(w, "bad registration path", http.StatusNotFound)
		return
	}
	id := strings.ToLower(parts[0])

	if parts[1] == "index.json" {
		f.writeJSON(w, map[string]interface{}{"count": len(f.liveSet()[id])})
		return
	}

	version := strings.TrimSuffix(parts[1], ".json")
	f.writeJSON(w, map[string]interface{}{
		"listed": !f.unlisted[key(id, version)],
	})
}

// NupkgBytes builds a minimal package archive: a zip holding the
// manifest entry at its root.
func NupkgBytes(id, version string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entry, _ := zw.Create(strings.ToLower(id) + ".nuspec")
	fmt.Fprintf(entry, `<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>feedtest</authors>
    <description>test package %s</description>
    <license type="expression">MIT</license>
  </metadata>
</package>
`, id, version, id)

	content, _ := zw.Create("lib/netstandard2.0/" + strings.ToLower(id) + ".dll")
	_, _ = content.Write([]byte(id + " " + version))

	_ = zw.Close()
	return buf.Bytes()
}
