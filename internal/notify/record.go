// Package notify sends purchase outcome messages and deduplicates error reports within a session.
package notify

import (
	"strings"
	"sync"
)

// Record is the set of error notifications already sent in one session.
// It is never persisted and is owned by a single Dispatcher.
type Record struct {
	mu   sync.Mutex
	sent map[recordKey]struct{}
}

type recordKey struct {
	category string
	message  string
}

// NewRecord creates an empty session record
func NewRecord() *Record {
	return &Record{sent: make(map[recordKey]struct{})}
}

// Claim marks (category, message) as sent and reports whether the caller is the first to do so
func (r *Record) Claim(category, message string) bool {
	key := recordKey{category: category, message: Normalize(message)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sent[key]; ok {
		return false
	}
	r.sent[key] = struct{}{}
	return true
}

// Len returns the number of claimed keys
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// Normalize trims a message and collapses internal whitespace
func Normalize(message string) string {
	return strings.Join(strings.Fields(message), " ")
}
