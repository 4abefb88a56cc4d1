// Package clientstore is the persistent client-side key/value layer every other component
// reads and writes through. It mirrors browser cookie semantics: values are strings with
// an expiry, reads and writes are synchronous, and nothing here ever fails loudly.
package clientstore

import (
	"context"
	"encoding/json"
	"time"
)

// Day is the TTL unit used by the cookie surface.
const Day = 24 * time.Hour

// Store is a cookie-like key/value store.
type Store interface {
	// Get returns the value stored under name, if present and not expired.
	Get(name string) (string, bool)
	// Set stores value under name for ttl. A non-positive ttl deletes the entry.
	Set(name, value string, ttl time.Duration)
	// Delete removes name.
	Delete(name string)
	// Names lists the names of all live entries.
	Names() []string
}

// Get decodes the JSON value stored under key. Missing or malformed values yield def.
func Get[T any](s Store, key string, def T) T {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return def
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return def
	}
	return v
}

// Set stores v as JSON under key for ttlDays days.
func Set[T any](s Store, key string, v T, ttlDays int) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Set(key, string(b), time.Duration(ttlDays)*Day)
}

// Backend persists visitor jars between page loads.
type Backend interface {
	Load(ctx context.Context, visitor string) (*MemoryJar, error)
	Save(ctx context.Context, visitor string, jar *MemoryJar) error
	Forget(ctx context.Context, visitor string) error
}
