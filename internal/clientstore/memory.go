package clientstore

import (
	"sort"
	"sync"
	"time"
)

// Entry is a single stored value with its absolute expiry.
type Entry struct {
	Name    string
	Value   string
	Expires time.Time
}

// MemoryJar is an in-memory Store. It is the test double, and the working copy that the
// HTTP, Redis and SQLite backends load into and save from.
//
// The mutex only guards against background work (a geo refresh) writing while the page
// logic reads; ordering between writers is last-writer-wins, as with real cookies.
type MemoryJar struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]Entry
	dirty   map[string]struct{}
}

// NewMemoryJar returns an empty jar using the wall clock.
func NewMemoryJar() *MemoryJar {
	return NewMemoryJarWithClock(time.Now)
}

// NewMemoryJarWithClock returns an empty jar using now for expiry decisions.
func NewMemoryJarWithClock(now func() time.Time) *MemoryJar {
	return &MemoryJar{
		now:     now,
		entries: make(map[string]Entry),
		dirty:   make(map[string]struct{}),
	}
}

// Load adds entries without marking them dirty. Expired entries are skipped.
func (j *MemoryJar) Load(entries ...Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, e := range entries {
		if !e.Expires.IsZero() && !e.Expires.After(now) {
			continue
		}
		j.entries[e.Name] = e
	}
}

func (j *MemoryJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[name]
	if !ok {
		return "", false
	}
	if !e.Expires.IsZero() && !e.Expires.After(j.now()) {
		delete(j.entries, name)
		return "", false
	}
	return e.Value, true
}

func (j *MemoryJar) Set(name, value string, ttl time.Duration) {
	if ttl <= 0 {
		j.Delete(name)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[name] = Entry{Name: name, Value: value, Expires: j.now().Add(ttl)}
	j.dirty[name] = struct{}{}
}

func (j *MemoryJar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.entries, name)
	j.dirty[name] = struct{}{}
}

func (j *MemoryJar) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	names := make([]string, 0, len(j.entries))
	for name, e := range j.entries {
		if !e.Expires.IsZero() && !e.Expires.After(now) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns a sorted snapshot of the live entries.
func (j *MemoryJar) Entries() []Entry {
	names := j.Names()

	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		if e, ok := j.entries[name]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Changes returns the entries written since the jar was loaded, and the names deleted.
func (j *MemoryJar) Changes() (updated []Entry, deleted []string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	names := make([]string, 0, len(j.dirty))
	for name := range j.dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if e, ok := j.entries[name]; ok {
			updated = append(updated, e)
		} else {
			deleted = append(deleted, name)
		}
	}
	return updated, deleted
}
