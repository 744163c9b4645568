// Package store holds the append-only journal of completed proxy
// exchanges (spec.md §4.2 / C2).
package store

import (
	"net/http"
	"sync"

	uuid "github.com/satori/go.uuid"
)

const initialCapacity = 1024

// RequestRecord is the captured shape of a client request.
type RequestRecord struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// ResponseRecord is the captured shape of an origin response.
type ResponseRecord struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Record is one completed request/response pair (spec.md §3 "HTTP record").
// Once appended, a Record is never mutated.
type Record struct {
	ID       uuid.UUID
	Request  RequestRecord
	Response ResponseRecord
}

// Store is a mutex-guarded, append-only, ordered sequence of Records.
// The zero value is not usable; construct with New.
type Store struct {
	mu      sync.Mutex
	records []Record
}

// New returns an empty Store with the capacity spec.md §3 names (1024),
// growing unbounded beyond that as records are appended.
func New() *Store {
	return &Store{records: make([]Record, 0, initialCapacity)}
}

// Append adds a record to the end of the journal. Safe for concurrent use;
// appends from multiple goroutines are serialized by the store's mutex,
// so records are ordered by completion time within one Store.
func (s *Store) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// Snapshot returns a copy of the records appended so far, in append order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records appended so far.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
