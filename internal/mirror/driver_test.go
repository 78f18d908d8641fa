package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/feedtest"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

func mirrorClient(t *testing.T) fetch.Client {
	t.Helper()
	cache, err := fetch.NewCache(t.TempDir(), 64, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return fetch.NewFetcher(fetch.WithCache(cache), fetch.WithBaseDelay(time.Millisecond))
}

func mirrorSettings(f *feedtest.Feed, root string) Settings {
	return Settings{
		FeedIndexURI: f.IndexURL(),
		OutputRoots:  []string{root},
		Layout:       LayoutV3,
		Mode:         OverwriteIfNewer,
		Delay:        time.Nanosecond,
		MaxThreads:   4,
		BatchSize:    8,
		RetryDelay:   time.Millisecond,
		Log:          logging.Nop(),
	}
}

func publishBackdated(f *feedtest.Feed, n int) {
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		f.Publish(fmt.Sprintf("pkg%d", i), "1.0.0", base.Add(time.Duration(i)*time.Second))
	}
}

func TestMirrorRunLayoutV3(t *testing.T) {
	f := feedtest.New(2)
	commit := time.Now().UTC().Add(-time.Hour)
	f.Publish("a", "1.0.0", commit)
	f.Start()
	defer f.Close()

	root := t.TempDir()
	beforeRun := time.Now().UTC()

	m, err := New(context.Background(), mirrorSettings(f, root), mirrorClient(t))
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	afterRun := time.Now().UTC()

	if len(result.Downloaded) != 1 {
		t.Fatalf("expected 1 download, got %d", len(result.Downloaded))
	}

	dir := filepath.Join(root, "a", "1.0.0")
	for _, name := range []string{"a.1.0.0.nupkg", "a.1.0.0.nupkg.sha512", "a.nuspec"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should exist: %v", name, err)
		}
	}

	cursor, ok, err := LoadCursor(root)
	if err != nil || !ok {
		t.Fatalf("cursor should be persisted: %v", err)
	}
	if cursor.Before(beforeRun.Add(-time.Second)) || cursor.After(afterRun) {
		t.Errorf("cursor %v should fall within the run window [%v, %v]", cursor, beforeRun, afterRun)
	}

	if _, err := os.Stat(filepath.Join(root, LastRunErrorsLog)); !os.IsNotExist(err) {
		t.Error("clean run should leave no error log")
	}

	updated, err := os.ReadFile(filepath.Join(root, UpdatedFilesLog))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(updated), "a.1.0.0.nupkg") {
		t.Errorf("change log should list the new archive: %s", updated)
	}
}

func TestMirrorIdempotentRerun(t *testing.T) {
	f := feedtest.New(2)
	publishBackdated(f, 3)
	f.Start()
	defer f.Close()

	root := t.TempDir()

	run := func() *RunResult {
		m, err := New(context.Background(), mirrorSettings(f, root), mirrorClient(t))
		if err != nil {
			t.Fatal(err)
		}
		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return result
	}

	first := run()
	if len(first.Downloaded) != 3 {
		t.Fatalf("first run should download 3 archives, got %d", len(first.Downloaded))
	}

	second := run()
	if len(second.Downloaded) != 0 {
		t.Errorf("unchanged feed should download nothing on rerun, got %d", len(second.Downloaded))
	}
	if second.Cursor.Before(first.Cursor) {
		t.Error("cursor must never rewind")
	}
}

func TestMirrorIncludeExcludeFilters(t *testing.T) {
	build := func() *feedtest.Feed {
		f := feedtest.New(2)
		base := time.Now().UTC().Add(-time.Hour)
		f.Publish("aa", "1.0.0", base)
		f.Publish("ab", "1.0.0", base.Add(time.Second))
		f.Publish("c", "1.0.0", base.Add(2*time.Second))
		return f
	}

	ids := func(result *RunResult) map[string]bool {
		got := make(map[string]bool)
		for _, path := range result.Downloaded {
			parts := strings.Split(filepath.ToSlash(path), "/")
			got[parts[len(parts)-3]] = true
		}
		return got
	}

	t.Run("include", func(t *testing.T) {
		f := build()
		f.Start()
		defer f.Close()

		settings := mirrorSettings(f, t.TempDir())
		settings.Includes = []string{"a*"}
		m, err := New(context.Background(), settings, mirrorClient(t))
		if err != nil {
			t.Fatal(err)
		}
		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		got := ids(result)
		if len(got) != 2 || !got["aa"] || !got["ab"] {
			t.Errorf("include a* should yield {aa, ab}, got %v", got)
		}
	})

	t.Run("exclude", func(t *testing.T) {
		f := build()
		f.Start()
		defer f.Close()

		settings := mirrorSettings(f, t.TempDir())
		settings.Excludes = []string{"a*"}
		m, err := New(context.Background(), settings, mirrorClient(t))
		if err != nil {
			t.Fatal(err)
		}
		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		got := ids(result)
		if len(got) != 1 || !got["c"] {
			t.Errorf("exclude a* should yield {c}, got %v", got)
		}
	})
}

func TestMirrorMissingArchiveIsWarning(t *testing.T) {
	f := feedtest.New(2)
	base := time.Now().UTC().Add(-time.Hour)
	f.Publish("present", "1.0.0", base)
	f.Publish("gone", "1.0.0", base.Add(time.Second))
	f.HideNupkg("gone", "1.0.0")
	f.Start()
	defer f.Close()

	root := t.TempDir()
	m, err := New(context.Background(), mirrorSettings(f, root), mirrorClient(t))
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("a 404 is a publisher gap, not a failure: %v", err)
	}
	if len(result.Downloaded) != 1 {
		t.Errorf("expected 1 download, got %d", len(result.Downloaded))
	}
	if len(result.Errors) != 0 {
		t.Errorf("404 should not be recorded as an error: %v", result.Errors)
	}
}

func TestMirrorScale(t *testing.T) {
	f := feedtest.New(5)
	publishBackdated(f, 50)
	f.Start()
	defer f.Close()

	root := t.TempDir()
	settings := mirrorSettings(f, root)
	settings.BatchSize = 10

	m, err := New(context.Background(), settings, mirrorClient(t))
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Downloaded) != 50 {
		t.Errorf("expected 50 downloads, got %d", len(result.Downloaded))
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if result.Total != 50 {
		t.Errorf("expected 50 dispatched entries, got %d", result.Total)
	}
}

func TestMirrorCanceled(t *testing.T) {
	f := feedtest.New(2)
	publishBackdated(f, 5)
	f.Start()
	defer f.Close()

	m, err := New(context.Background(), mirrorSettings(f, t.TempDir()), mirrorClient(t))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Run(ctx); err == nil {
		t.Error("a canceled run must surface an error, not an empty result")
	}
}

func TestMirrorCursorAdvancesPerBatch(t *testing.T) {
	f := feedtest.New(2)
	publishBackdated(f, 6)
	f.Start()
	defer f.Close()

	root := t.TempDir()
	settings := mirrorSettings(f, root)
	settings.BatchSize = 2

	m, err := New(context.Background(), settings, mirrorClient(t))
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	cursor, ok, err := LoadCursor(root)
	if err != nil || !ok {
		t.Fatalf("cursor missing: %v", err)
	}
	if !cursor.Equal(result.Cursor) {
		t.Errorf("persisted cursor %v != reported %v", cursor, result.Cursor)
	}
	if len(result.Downloaded) != 6 {
		t.Errorf("expected 6 downloads, got %d", len(result.Downloaded))
	}
}
