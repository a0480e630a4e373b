package manager

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRequestNotFound        = errors.New("request not found")
	ErrRequestAlreadyExists   = errors.New("request already exists")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// RequestStore manages in-memory request tracking
type RequestStore struct {
	requests map[string]*Request
	mu       sync.RWMutex
}

// NewRequestStore creates a new request store
func NewRequestStore() *RequestStore {
	return &RequestStore{
		requests: make(map[string]*Request),
	}
}

// Add adds a new request to the store
func (s *RequestStore) Add(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return ErrRequestAlreadyExists
	}

	s.requests[req.ID] = req
	return nil
}

// Get retrieves a request by ID
func (s *RequestStore) Get(id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return nil, ErrRequestNotFound
	}

	return req, nil
}

// List returns snapshots of requests, newest first, optionally filtered by state.
func (s *RequestStore) List(filterState *RequestState, limit, offset int) ([]Snapshot, int) {
	s.mu.RLock()
	var filtered []Snapshot
	for _, req := range s.requests {
		if filterState != nil && req.GetState() != *filterState {
			continue
		}
		filtered = append(filtered, req.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].StartTime.After(filtered[j].StartTime) })
	total := len(filtered)

	if offset >= len(filtered) {
		return []Snapshot{}, total
	}

	end := offset + limit
	if end > len(filtered) || limit == 0 {
		end = len(filtered)
	}

	return filtered[offset:end], total
}

// CleanupOldRequests removes terminal requests not updated within maxAge
func (s *RequestStore) CleanupOldRequests(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for id, req := range s.requests {
		snap := req.Snapshot()
		st, _ := ParseRequestState(snap.State)
		if st.Terminal() && snap.UpdateTime.Before(cutoff) {
			delete(s.requests, id)
			removed++
		}
	}

	return removed
}

// Count returns the total number of requests
func (s *RequestStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
