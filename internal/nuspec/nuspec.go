// Package nuspec reads the manifest embedded in package archives and
// served standalone by the flat-container layout.
package nuspec

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/github/go-spdx/v2/spdxexp"
)

// Manifest is the parsed nuspec document.
type Manifest struct {
	XMLName  xml.Name `xml:"package"`
	Metadata Metadata `xml:"metadata"`
}

// Metadata carries the package description fields.
type Metadata struct {
	ID               string            `xml:"id"`
	Version          string            `xml:"version"`
	Authors          string            `xml:"authors"`
	Description      string            `xml:"description"`
	ProjectURL       string            `xml:"projectUrl"`
	Tags             string            `xml:"tags"`
	License          License           `xml:"license"`
	LicenseURL       string            `xml:"licenseUrl"`
	DependencyGroups []DependencyGroup `xml:"dependencies>group"`
	// FlatDependencies holds legacy manifests that list dependencies
	// without target framework groups.
	FlatDependencies []Dependency `xml:"dependencies>dependency"`
}

// License is the license element; Type is "expression" or "file".
type License struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// DependencyGroup is one target-framework dependency set.
type DependencyGroup struct {
	TargetFramework string       `xml:"targetFramework,attr"`
	Dependencies    []Dependency `xml:"dependency"`
}

// Dependency is a single package reference.
type Dependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// Parse decodes a nuspec document.
func Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing nuspec: %w", err)
	}
	if m.Metadata.ID == "" {
		return nil, errors.New("nuspec has no package id")
	}
	return &m, nil
}

// LicenseExpression returns the SPDX license expression, empty when the
// manifest declares a license file or nothing at all.
func (m *Manifest) LicenseExpression() string {
	if strings.EqualFold(m.Metadata.License.Type, "expression") {
		return strings.TrimSpace(m.Metadata.License.Value)
	}
	return ""
}

// ValidLicense reports whether the declared license expression is a
// known SPDX expression. Manifests without an expression report false.
func (m *Manifest) ValidLicense() bool {
	expr := m.LicenseExpression()
	if expr == "" {
		return false
	}
	valid, _ := spdxexp.ValidateLicenses([]string{expr})
	return valid
}

// Tags splits the space-separated tags field.
func (m *Manifest) Tags() []string {
	return strings.Fields(m.Metadata.Tags)
}

// FromNupkg opens a package archive and parses its manifest entry.
func FromNupkg(path string) (*Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer zr.Close()

	entry, err := manifestEntry(&zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return Parse(rc)
}

// Extract copies the archive's manifest entry to dest, writing through
// a temp sibling and an atomic rename.
func Extract(nupkgPath, dest string) error {
	zr, err := zip.OpenReader(nupkgPath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", nupkgPath, err)
	}
	defer zr.Close()

	entry, err := manifestEntry(&zr.Reader)
	if err != nil {
		return fmt.Errorf("%s: %w", nupkgPath, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
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

// manifestEntry locates the root-level nuspec entry.
func manifestEntry(zr *zip.Reader) (*zip.File, error) {
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".nuspec") && !strings.Contains(f.Name, "/") {
			return f, nil
		}
	}
	return nil, errors.New("no manifest entry in archive")
}
