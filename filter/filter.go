// Package filter suppresses repeated log messages and repeated error reports.
package filter

import "sync"

// Scope controls how long a filter entry lives.
type Scope uint8

const (
	// Session entries are dropped by Reset.
	Session Scope = iota
	// Permanent entries live for the life of the process.
	Permanent
)

func (s Scope) String() string {
	if s == Permanent {
		return "permanent"
	}
	return "session"
}

type key struct {
	channel string
	message string
}

// Filter remembers (channel, message) pairs that should not be written again.
type Filter struct {
	mu      sync.RWMutex
	entries map[key]Scope
}

// New returns an empty Filter.
func New() *Filter {
	return &Filter{entries: make(map[key]Scope)}
}

// Add registers message on channel. A Permanent entry is never downgraded to
// Session.
func (f *Filter) Add(channel, message string, scope Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key{channel, message}
	if prev, ok := f.entries[k]; ok && prev == Permanent {
		return
	}
	f.entries[k] = scope
}

// Match reports whether message on channel has been registered.
func (f *Filter) Match(channel, message string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.entries[key{channel, message}]
	return ok
}

// Reset drops Session entries.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, s := range f.entries {
		if s == Session {
			delete(f.entries, k)
		}
	}
}

// Len returns the number of entries.
func (f *Filter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Reported tracks which errors have already been reported per channel.
type Reported struct {
	mu   sync.Mutex
	seen map[key]struct{}
}

// NewReported returns an empty registry.
func NewReported() *Reported {
	return &Reported{seen: make(map[key]struct{})}
}

// Report records signature for channel and returns true the first time the
// pair is seen.
func (r *Reported) Report(channel, signature string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{channel, signature}
	if _, ok := r.seen[k]; ok {
		return false
	}
	r.seen[k] = struct{}{}
	return true
}

// Seen reports whether signature was already reported for channel.
func (r *Reported) Seen(channel, signature string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[key{channel, signature}]
	return ok
}
