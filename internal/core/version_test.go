package core

import (
	"testing"
)

func TestParseVersionNormalized(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.0.0", "1.0.0"},
		{"1.0", "1.0.0"},
		{"1", "1.0.0"},
		{"1.2.3.4", "1.2.3.4"},
		{"1.2.3.0", "1.2.3"},
		{"1.0.0-beta", "1.0.0-beta"},
		{"1.0.0-beta.1+sha.abc", "1.0.0-beta.1"},
		{"1.0.0.1-RC.1.2.b0.1+meta.blah.1", "1.0.0.1-RC.1.2.b0.1"},
	}

	for _, tc := range cases {
		v, err := ParseVersion(tc.in)
		if err != nil {
			t.Fatalf("ParseVersion(%q) failed: %v", tc.in, err)
		}
		if v.Normalized() != tc.want {
			t.Errorf("ParseVersion(%q).Normalized() = %q, want %q", tc.in, v.Normalized(), tc.want)
		}
	}
}

func TestParseVersionFields(t *testing.T) {
	v, err := ParseVersion("1.2.3.4-rc.1+build.5")
	if err != nil {
		t.Fatal(err)
	}
	if v.Major != 1 || v.Minor != 2 || v.Patch != 3 || v.Revision != 4 {
		t.Errorf("unexpected numeric segments: %d.%d.%d.%d", v.Major, v.Minor, v.Patch, v.Revision)
	}
	if v.Release != "rc.1" {
		t.Errorf("unexpected release: %q", v.Release)
	}
	if v.Metadata != "build.5" {
		t.Errorf("unexpected metadata: %q", v.Metadata)
	}
	if !v.IsPrerelease() {
		t.Error("expected prerelease")
	}
	if v.Full() != "1.2.3.4-rc.1+build.5" {
		t.Errorf("unexpected full form: %q", v.Full())
	}
	if v.Path() != "1.2.3.4-rc.1" {
		t.Errorf("unexpected path form: %q", v.Path())
	}
}

func TestParseVersionRejects(t *testing.T) {
	for _, in := range []string{"", "a.b.c", "1.2.3.4.5", "1.-2", "1.0.0-", "1.0.0+"} {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q) should have failed", in)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	ordered := []string{
		"0.9.0",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.0.1",
		"1.0.1",
		"2.0.0",
	}

	for i := 0; i < len(ordered)-1; i++ {
		a, err := ParseVersion(ordered[i])
		if err != nil {
			t.Fatal(err)
		}
		b, err := ParseVersion(ordered[i+1])
		if err != nil {
			t.Fatal(err)
		}
		if a.Compare(b) >= 0 {
			t.Errorf("expected %s < %s", ordered[i], ordered[i+1])
		}
		if b.Compare(a) <= 0 {
			t.Errorf("expected %s > %s", ordered[i+1], ordered[i])
		}
	}
}

func TestVersionCompareMetadataTieBreak(t *testing.T) {
	plain, _ := ParseVersion("1.0.0")
	meta, _ := ParseVersion("1.0.0+build")

	if plain.Compare(meta) == 0 {
		t.Error("metadata should participate in comparison")
	}
	if !plain.Equal(plain) {
		t.Error("version should equal itself")
	}
}

func TestVersionCompareReleaseCaseInsensitive(t *testing.T) {
	a, _ := ParseVersion("1.0.0-RC.1")
	b, _ := ParseVersion("1.0.0-rc.1")
	if a.Compare(b) != 0 {
		t.Error("release label comparison should ignore case")
	}
}
