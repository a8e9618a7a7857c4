// Package memory contains a canned Searcher for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Searcher returns canned results and records the queries it received.
type Searcher struct {
	mu      sync.RWMutex
	results []evidence.SearchResult
	err     error
	queries []string
}

// New returns a Searcher that answers every query with the given results.
func New(results []evidence.SearchResult) *Searcher {
	return &Searcher{results: results}
}

// SetError makes subsequent Search calls fail with err.
func (s *Searcher) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Search records the query and returns the canned results capped at maxResults.
func (s *Searcher) Search(_ context.Context, query string, maxResults int) ([]evidence.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	if maxResults > len(s.results) {
		maxResults = len(s.results)
	}
	if maxResults < 0 {
		maxResults = 0
	}
	out := make([]evidence.SearchResult, maxResults)
	copy(out, s.results[:maxResults])
	return out, nil
}

// Queries returns the recorded queries.
func (s *Searcher) Queries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}
