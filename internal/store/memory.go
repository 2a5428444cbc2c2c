package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MeKo-Tech/trustroute/internal/document"
)

// Memory keeps everything in process memory.
type Memory struct {
	mu        sync.RWMutex
	results   map[string]*document.Result
	regionJob map[string]string
	audit     []document.AuditLogEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		results:   make(map[string]*document.Result),
		regionJob: make(map[string]string),
	}
}

func (m *Memory) SaveResult(_ context.Context, res *document.Result) error {
	if res == nil || res.JobID == "" {
		return fmt.Errorf("result without job id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range res.Fields {
		if owner, ok := m.regionJob[f.ID]; ok && owner != res.JobID {
			return fmt.Errorf("region %s already belongs to job %s", f.ID, owner)
		}
	}
	if old, ok := m.results[res.JobID]; ok {
		for _, f := range old.Fields {
			delete(m.regionJob, f.ID)
		}
	}
	m.results[res.JobID] = res.Clone()
	for _, f := range res.Fields {
		m.regionJob[f.ID] = res.JobID
	}
	return nil
}

func (m *Memory) GetResult(_ context.Context, jobID string) (*document.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return res.Clone(), nil
}

func (m *Memory) ListResults(_ context.Context) ([]*document.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*document.Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r.Clone())
	}
	sortResults(out)
	return out, nil
}

func (m *Memory) UpdateRegion(_ context.Context, regionID string, fn UpdateFunc) (document.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobID, ok := m.regionJob[regionID]
	if !ok {
		return document.AuditLogEntry{}, fmt.Errorf("region %s: %w", regionID, ErrNotFound)
	}
	job := m.results[jobID].Clone()
	region := findRegion(job, regionID)

	entry, err := fn(job, region)
	if err != nil {
		return document.AuditLogEntry{}, err
	}
	m.results[jobID] = job
	m.audit = append(m.audit, entry)
	return entry, nil
}

func (m *Memory) AuditLog(_ context.Context, jobID string) ([]document.AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []document.AuditLogEntry{}
	for _, e := range m.audit {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortResults(results []*document.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.Before(results[j].CreatedAt)
		}
		return results[i].JobID < results[j].JobID
	})
}
