package api

import (
	"sync"
)

// SampleStore keeps finished samples in memory, keyed by id.
type SampleStore struct {
	mu      sync.Mutex
	samples map[string]SampleResponse
}

func NewSampleStore() *SampleStore {
	return &SampleStore{
		samples: make(map[string]SampleResponse),
	}
}

func (s *SampleStore) Save(resp SampleResponse) {
	s.mu.Lock()
	s.samples[resp.ID] = resp
	s.mu.Unlock()
}

func (s *SampleStore) Get(id string) (SampleResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.samples[id]
	return resp, ok
}

func (s *SampleStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[id]; !ok {
		return false
	}
	delete(s.samples, id)
	return true
}

func (s *SampleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
