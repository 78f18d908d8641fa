// Package feed resolves a repository's service index and enumerates
// packages on feeds that publish no catalog.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

// Well-known service type strings.
const (
	TypeCatalog             = "Catalog/3.0.0"
	TypeCatalogSleet        = "http://schema.emgarten.com/sleet#Catalog/1.0.0"
	TypePackageBaseAddress  = "PackageBaseAddress/3.0.0"
	TypeSymbolsPackageIndex = "http://schema.emgarten.com/sleet#SymbolsPackageIndex/1.0.0"
)

// catalogTypes in preference order.
var catalogTypes = []string{TypeCatalog, TypeCatalogSleet}

// registrationTypes in preference order over the versioned variants.
var registrationTypes = []string{
	"RegistrationsBaseUrl/Versioned",
	"RegistrationsBaseUrl/3.6.0",
	"RegistrationsBaseUrl/3.4.0",
	"RegistrationsBaseUrl/3.0.0-beta",
}

// ServiceIndex maps service type strings onto ordered base URIs. Built
// once per reader session and shared by every entry created from it.
type ServiceIndex struct {
	uri       string
	resources map[string][]string
}

// LoadServiceIndex fetches and parses the repository root document. A
// document without a resources array is rejected: the reader requires a
// service index, not a catalog leaf.
func LoadServiceIndex(ctx context.Context, client fetch.Client, indexURI string, log logging.Logger) (*ServiceIndex, error) {
	doc, err := client.GetJSON(ctx, indexURI, log)
	if err != nil {
		return nil, fmt.Errorf("loading service index %s: %w", indexURI, err)
	}

	rawResources, ok := doc["resources"].([]interface{})
	if !ok {
		return nil, &core.ConfigurationError{
			Reason: fmt.Sprintf("%s is not a service index: missing resources array", indexURI),
		}
	}

	idx := &ServiceIndex{
		uri:       indexURI,
		resources: make(map[string][]string),
	}
	for _, raw := range rawResources {
		res, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := res["@id"].(string)
		if id == "" {
			continue
		}
		switch t := res["@type"].(type) {
		case string:
			idx.resources[t] = append(idx.resources[t], id)
		case []interface{}:
			for _, one := range t {
				if declared, ok := one.(string); ok {
					idx.resources[declared] = append(idx.resources[declared], id)
				}
			}
		}
	}
	return idx, nil
}

// URI returns the service index document URI.
func (s *ServiceIndex) URI() string {
	return s.uri
}

// resolve returns the first URI declared for any of the given types, in
// type preference order.
func (s *ServiceIndex) resolve(types []string) (string, bool) {
	for _, t := range types {
		if uris := s.resources[t]; len(uris) > 0 {
			return uris[0], true
		}
	}
	return "", false
}

// CatalogURI returns the catalog root URI.
func (s *ServiceIndex) CatalogURI() (string, error) {
	uri, ok := s.resolve(catalogTypes)
	if !ok {
		return "", &core.ConfigurationError{
			Reason:        "service index declares no catalog",
			AcceptedTypes: catalogTypes,
		}
	}
	return uri, nil
}

// HasCatalog probes for a catalog service; absence is a successful
// negative, not an error.
func (s *ServiceIndex) HasCatalog() bool {
	_, ok := s.resolve(catalogTypes)
	return ok
}

// PackageBaseURI returns the package-base-address URI, the base of the
// archive and manifest layout.
func (s *ServiceIndex) PackageBaseURI() (string, error) {
	uri, ok := s.resolve([]string{TypePackageBaseAddress})
	if !ok {
		return "", &core.ConfigurationError{
			Reason:        "service index declares no package base address",
			AcceptedTypes: []string{TypePackageBaseAddress},
		}
	}
	return uri, nil
}

// RegistrationBaseURI returns the registration base URI, preferring the
// versioned variants in order.
func (s *ServiceIndex) RegistrationBaseURI() (string, error) {
	uri, ok := s.resolve(registrationTypes)
	if !ok {
		return "", &core.ConfigurationError{
			Reason:        "service index declares no registration base",
			AcceptedTypes: registrationTypes,
		}
	}
	return uri, nil
}

// PackageIndexURI returns the optional symbols package index URI.
func (s *ServiceIndex) PackageIndexURI() (string, bool) {
	return s.resolve([]string{TypeSymbolsPackageIndex})
}

// TrimBase normalizes a base URI by trimming the trailing slash.
func TrimBase(uri string) string {
	return strings.TrimSuffix(uri, "/")
}
