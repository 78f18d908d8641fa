package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/git-pkgs/nugetmirror/internal/feedtest"
)

func TestNupkgsCommandMirrorsFeed(t *testing.T) {
	f := feedtest.New(2)
	base := time.Now().UTC().Add(-time.Hour)
	f.Publish("a", "1.0.0", base)
	f.Publish("b", "2.0.0", base.Add(time.Second))
	f.Start()
	defer f.Close()

	out := t.TempDir()

	cmd := newNupkgsCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{f.IndexURL(), "-o", out, "--folder-format", "v3"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("nupkgs failed: %v", err)
	}

	for _, rel := range []string{
		filepath.Join("a", "1.0.0", "a.1.0.0.nupkg"),
		filepath.Join("a", "1.0.0", "a.1.0.0.nupkg.sha512"),
		filepath.Join("a", "1.0.0", "a.nuspec"),
		filepath.Join("b", "2.0.0", "b.2.0.0.nupkg"),
		"cursor.json",
		"updatedFiles.txt",
	} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("%s should exist: %v", rel, err)
		}
	}

	if _, err := os.Stat(filepath.Join(out, "lastRunErrors.txt")); !os.IsNotExist(err) {
		t.Error("clean mirror should write no error log")
	}
}

func TestNupkgsCommandV2Layout(t *testing.T) {
	f := feedtest.New(2)
	f.Publish("a", "1.0.0", time.Now().UTC().Add(-time.Hour))
	f.Start()
	defer f.Close()

	out := t.TempDir()

	cmd := newNupkgsCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetArgs([]string{f.IndexURL(), "-o", out, "--folder-format", "v2"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("nupkgs failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "a", "a.1.0.0.nupkg")); err != nil {
		t.Errorf("v2 layout path missing: %v", err)
	}
}

func TestNupkgsCommandRejectsBadFlags(t *testing.T) {
	cmd := newNupkgsCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"https://feed.test/index.json", "--folder-format", "v9"})

	if err := cmd.Execute(); err == nil {
		t.Error("unknown folder format should fail")
	}
}
