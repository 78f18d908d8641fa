package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/nugetmirror/internal/feedtest"
	"github.com/git-pkgs/nugetmirror/internal/mirror"
)

func TestListCommand(t *testing.T) {
	f := feedtest.New(2)
	base := time.Now().UTC().Add(-time.Hour)
	f.Publish("beta", "1.0.0", base)
	f.Publish("alpha", "2.0.0", base.Add(time.Second))
	f.Publish("alpha", "1.0.0", base.Add(2*time.Second))
	f.Start()
	defer f.Close()

	cmd := newListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{f.IndexURL()})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{"alpha 1.0.0", "alpha 2.0.0", "beta 1.0.0"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), out.String())
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestListCommandWindowFlags(t *testing.T) {
	f := feedtest.New(2)
	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	f.Publish("early", "1.0.0", base)
	f.Publish("late", "1.0.0", base.Add(time.Hour))
	f.Start()
	defer f.Close()

	cmd := newListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		f.IndexURL(),
		"-s", base.Format(time.RFC3339),
		"-e", base.Add(2 * time.Hour).Format(time.RFC3339),
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("list failed: %v", err)
	}

	got := strings.TrimSpace(out.String())
	if got != "late 1.0.0" {
		t.Errorf("window should exclude the entry at the lower edge, got %q", got)
	}
}

func TestListCommandVerbose(t *testing.T) {
	f := feedtest.New(2)
	f.Publish("a", "1.0.0", time.Now().UTC().Add(-time.Hour))
	f.Start()
	defer f.Close()

	cmd := newListCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{f.IndexURL(), "-v"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("list -v failed: %v", err)
	}
	if !strings.Contains(out.String(), "pkg:nuget/a@1.0.0") {
		t.Errorf("verbose output should include the package URL: %q", out.String())
	}
}

func TestParseDownloadMode(t *testing.T) {
	names := []string{"fail-if-exists", "skip-if-exists", "overwrite-if-newer", "force"}
	seen := make(map[mirror.DownloadMode]string)
	for _, name := range names {
		mode, err := parseDownloadMode(name)
		if err != nil {
			t.Fatalf("parseDownloadMode(%q) failed: %v", name, err)
		}
		if prev, dup := seen[mode]; dup {
			t.Errorf("%q and %q map to the same mode", prev, name)
		}
		seen[mode] = name
	}
	if _, err := parseDownloadMode("maybe"); err == nil {
		t.Error("unknown mode should fail")
	}
}
