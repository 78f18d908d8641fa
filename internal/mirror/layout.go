package mirror

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/git-pkgs/nugetmirror/client"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/nuspec"
)

// LayoutVersion selects the on-disk archive tree shape.
type LayoutVersion int

const (
	// LayoutV2 stores {root}/{id}/{id}.{version}.nupkg.
	LayoutV2 LayoutVersion = 2
	// LayoutV3 stores {root}/{id}/{version}/{id}.{version}.nupkg plus
	// the sha512 and nuspec sidecars.
	LayoutV3 LayoutVersion = 3
)

// ParseLayoutVersion accepts "v2" or "v3".
func ParseLayoutVersion(s string) (LayoutVersion, error) {
	switch strings.ToLower(s) {
	case "v2":
		return LayoutV2, nil
	case "v3":
		return LayoutV3, nil
	}
	return 0, fmt.Errorf("unknown folder format %q (expected v2 or v3)", s)
}

// DownloadMode controls behavior when the destination archive already
// exists.
type DownloadMode int

const (
	// FailIfExists errors on an existing archive.
	FailIfExists DownloadMode = iota
	// SkipIfExists short-circuits on an existing, valid archive.
	SkipIfExists
	// OverwriteIfNewer writes only when the catalog commit timestamp is
	// strictly later than the on-disk modification time.
	OverwriteIfNewer
	// Force always writes.
	Force
)

// Layout places downloaded archives into one or more storage roots.
type Layout struct {
	roots   []string
	version LayoutVersion
}

// NewLayout creates a layout over the configured storage roots.
func NewLayout(roots []string, version LayoutVersion) (*Layout, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("no storage roots configured")
	}
	return &Layout{roots: roots, version: version}, nil
}

// dir returns the directory holding an entry's archive under root.
func (l *Layout) dir(root string, id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	if l.version == LayoutV2 {
		return filepath.Join(root, id)
	}
	return filepath.Join(root, id, version)
}

// archivePath resolves the destination for an entry: a root already
// holding the archive wins, otherwise the root with the most free
// space. Ties break by configuration order.
func (l *Layout) archivePath(id, version string) string {
	name := client.NupkgName(id, version)

	for _, root := range l.roots {
		candidate := filepath.Join(l.dir(root, id, version), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	best := l.roots[0]
	var bestFree uint64
	for i, root := range l.roots {
		free := freeSpace(root)
		if i == 0 || free > bestFree {
			best, bestFree = root, free
		}
	}
	return filepath.Join(l.dir(best, id, version), name)
}

// Outcome reports what Place did for one entry.
type Outcome struct {
	// Path of the archive, whether freshly written or pre-existing.
	Path string
	// Written is true when a new archive was put on disk this run.
	Written bool
}

// Place writes the downloaded archive at srcPath into the layout
// according to mode. Writes go through a temp sibling and an atomic
// rename, and the file times are set to the catalog commit timestamp.
// For layout v3 the sha512 and nuspec sidecars are (re)materialized
// whenever the archive was refreshed or a sidecar is missing.
func (l *Layout) Place(e *core.CatalogEntry, srcPath string, mode DownloadMode) (Outcome, error) {
	dest := l.archivePath(e.ID, e.Version.Path())

	write := true
	if stat, err := os.Stat(dest); err == nil {
		switch mode {
		case FailIfExists:
			return Outcome{}, fmt.Errorf("archive already exists: %s", dest)
		case SkipIfExists:
			// An existing archive whose manifest no longer reads is
			// rewritten.
			_, readErr := nuspec.FromNupkg(dest)
			write = readErr != nil
		case OverwriteIfNewer:
			write = e.CommitTime.After(stat.ModTime())
		case Force:
		}
	}

	if write {
		if err := copyAtomic(srcPath, dest); err != nil {
			return Outcome{}, err
		}
		if !e.CommitTime.IsZero() {
			if err := os.Chtimes(dest, e.CommitTime, e.CommitTime); err != nil {
				return Outcome{}, err
			}
		}
	}

	if l.version == LayoutV3 {
		if err := l.materializeSidecars(e, dest, write); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Path: dest, Written: write}, nil
}

// materializeSidecars writes {id}.{version}.nupkg.sha512 and {id}.nuspec
// next to the archive when refreshed or missing.
func (l *Layout) materializeSidecars(e *core.CatalogEntry, archivePath string, refreshed bool) error {
	dir := filepath.Dir(archivePath)
	hashPath := archivePath + ".sha512"
	nuspecPath := filepath.Join(dir, strings.ToLower(e.ID)+".nuspec")

	if refreshed || !fileExists(hashPath) {
		digest, err := hashFile(archivePath)
		if err != nil {
			return err
		}
		tmp := hashPath + ".tmp"
		if err := os.WriteFile(tmp, []byte(digest), 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, hashPath); err != nil {
			os.Remove(tmp)
			return err
		}
	}

	if refreshed || !fileExists(nuspecPath) {
		if err := nuspec.Extract(archivePath, nuspecPath); err != nil {
			return err
		}
	}
	return nil
}

// hashFile returns the base64 SHA-512 digest of the file's bytes.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyAtomic(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// freeSpace reports the free bytes of the filesystem containing path.
func freeSpace(path string) uint64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0
	}
	return st.Bavail * uint64(st.Bsize)
}
