// Package ledger is the append-only record of visited URLs plus the
// optional body/header store consumed by analyzers and exporters after
// the crawl. Entries are appended exactly once per visit and never
// mutated afterwards.
package ledger

import (
	"net/http"
	"sync"

	"arachne/engine/models"
)

// Store persists response bodies and headers keyed by uqId.
type Store interface {
	PutBody(uqID string, body []byte, headers http.Header) error
	Body(uqID string) ([]byte, http.Header, bool, error)
	Close() error
}

// Ledger is the append-only visited record.
type Ledger struct {
	mu      sync.RWMutex
	entries []models.VisitedURL
	store   Store
}

// New builds a ledger over the given store. A nil store disables body
// retention.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append records one terminal visit. Body and headers are retained only
// when a store is configured and body is non-nil.
func (l *Ledger) Append(v models.VisitedURL, body []byte, headers http.Header) error {
	l.mu.Lock()
	l.entries = append(l.entries, v)
	l.mu.Unlock()
	if l.store != nil && body != nil {
		return l.store.PutBody(v.UqID, body, headers)
	}
	return nil
}

// Len returns the number of recorded visits.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a snapshot copy of the recorded visits.
func (l *Ledger) Entries() []models.VisitedURL {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.VisitedURL, len(l.entries))
	copy(out, l.entries)
	return out
}

// ForEach iterates visits in append order until fn returns false.
func (l *Ledger) ForEach(fn func(models.VisitedURL) bool) {
	for _, v := range l.Entries() {
		if !fn(v) {
			return
		}
	}
}

// Body loads a stored body by uqId.
func (l *Ledger) Body(uqID string) ([]byte, http.Header, bool, error) {
	if l.store == nil {
		return nil, nil, false, nil
	}
	return l.store.Body(uqID)
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}
