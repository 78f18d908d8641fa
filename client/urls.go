// Package client constructs canonical NuGet v3 URLs from the service
// base addresses published by a feed's service index.
package client

import (
	"fmt"
	"strings"
)

// URLBuilder computes archive, manifest, and registration URLs for a
// feed. Package ids and versions are lowercased; versions are expected
// in their normalized form with build metadata already stripped.
type URLBuilder struct {
	packageBase      string
	registrationBase string
}

// NewURLBuilder creates a builder from the package-base-address and
// registration base URLs. Trailing slashes are trimmed.
func NewURLBuilder(packageBase, registrationBase string) *URLBuilder {
	return &URLBuilder{
		packageBase:      strings.TrimSuffix(packageBase, "/"),
		registrationBase: strings.TrimSuffix(registrationBase, "/"),
	}
}

// PackageBase returns the normalized package-base-address URL.
func (b *URLBuilder) PackageBase() string {
	return b.packageBase
}

// RegistrationBase returns the normalized registration base URL.
func (b *URLBuilder) RegistrationBase() string {
	return b.registrationBase
}

// Nupkg returns the package archive URL:
// {packageBase}/{id}/{version}/{id}.{version}.nupkg
func (b *URLBuilder) Nupkg(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return fmt.Sprintf("%s/%s/%s/%s.%s.nupkg", b.packageBase, id, version, id, version)
}

// Nuspec returns the standalone manifest URL:
// {packageBase}/{id}/{version}/{id}.nuspec
func (b *URLBuilder) Nuspec(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return fmt.Sprintf("%s/%s/%s/%s.nuspec", b.packageBase, id, version, id)
}

// PackageIndex returns the per-id version index URL:
// {packageBase}/{id}/index.json
func (b *URLBuilder) PackageIndex(id string) string {
	return fmt.Sprintf("%s/%s/index.json", b.packageBase, strings.ToLower(id))
}

// RegistrationLeaf returns the per-version registration document URL:
// {registrationBase}/{id}/{version}.json
func (b *URLBuilder) RegistrationLeaf(id, version string) string {
	return fmt.Sprintf("%s/%s/%s.json", b.registrationBase, strings.ToLower(id), strings.ToLower(version))
}

// RegistrationIndex returns the per-id registration index URL:
// {registrationBase}/{id}/index.json
func (b *URLBuilder) RegistrationIndex(id string) string {
	return fmt.Sprintf("%s/%s/index.json", b.registrationBase, strings.ToLower(id))
}

// NupkgName returns the archive file name for an (id, version) pair.
func NupkgName(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return fmt.Sprintf("%s.%s.nupkg", id, version)
}
