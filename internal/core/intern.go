package core

import (
	"fmt"
	"sync"
	"time"
)

// timestampFormats are the accepted catalog timestamp layouts. Catalog
// documents carry ISO-8601 strings with seven fractional digits, with
// either a Z suffix, a numeric offset, or no zone at all (treated as UTC).
var timestampFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
}

// InternPool deduplicates the strings, timestamps, and versions repeated
// across thousands of catalog entries within one reader session. Safe
// for concurrent use; an existing value is reused when present.
type InternPool struct {
	mu       sync.RWMutex
	strings  map[string]string
	times    map[string]time.Time
	versions map[string]*Version
}

func NewInternPool() *InternPool {
	return &InternPool{
		strings:  make(map[string]string),
		times:    make(map[string]time.Time),
		versions: make(map[string]*Version),
	}
}

// String returns the pooled copy of s.
func (p *InternPool) String(s string) string {
	p.mu.RLock()
	v, ok := p.strings[s]
	p.mu.RUnlock()
	if ok {
		return v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.strings[s]; ok {
		return v
	}
	p.strings[s] = s
	return s
}

// Time parses an ISO-8601 timestamp, caching the parse result keyed by
// the raw string.
func (p *InternPool) Time(s string) (time.Time, error) {
	p.mu.RLock()
	t, ok := p.times[s]
	p.mu.RUnlock()
	if ok {
		return t, nil
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.times[s]; ok {
		return t, nil
	}
	p.times[s] = parsed
	return parsed, nil
}

// Version parses a version string, caching the parsed value keyed by the
// raw string.
func (p *InternPool) Version(s string) (*Version, error) {
	p.mu.RLock()
	v, ok := p.versions[s]
	p.mu.RUnlock()
	if ok {
		return v, nil
	}

	parsed, err := ParseVersion(s)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.versions[s]; ok {
		return v, nil
	}
	p.versions[s] = parsed
	return parsed, nil
}

// ParseTimestamp parses an ISO-8601 catalog timestamp. Timestamps are
// kept as strings during JSON decoding and parsed here with fixed
// layouts, never through locale-dependent conversion.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
