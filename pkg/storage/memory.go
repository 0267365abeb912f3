package storage

import (
	"sort"
	"sync"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
)

// MemoryStore implements Store in process memory. Ids restart from 1 and
// records are lost when the process exits.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	records map[string]*types.FleetCorrelationRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.FleetCorrelationRecord)}
}

func (s *MemoryStore) NextJobID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) SaveRecord(rec *types.FleetCorrelationRecord) error {
	if rec == nil || rec.Fleet == "" {
		return errdefs.Invalidf("correlation record requires a fleet name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Fleet] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetRecord(fleet string) (*types.FleetCorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fleet]
	if !ok {
		return nil, errdefs.NotFoundf("there is no process for fleet %s", fleet)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListRecords() ([]*types.FleetCorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.FleetCorrelationRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fleet < out[j].Fleet })
	return out, nil
}

func (s *MemoryStore) DeleteRecord(fleet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fleet)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(rec *types.FleetCorrelationRecord) *types.FleetCorrelationRecord {
	out := *rec
	if rec.Devices != nil {
		out.Devices = make(map[string]int64, len(rec.Devices))
		for k, v := range rec.Devices {
			out.Devices[k] = v
		}
	}
	return &out
}
