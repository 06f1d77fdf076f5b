package upload

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mediavault/internal/pkg/mediatype"
)

// MemoryRepository is the in-process ledger. It is not persistent; on
// restart it is rebuilt from the storage partitions.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*FileRecord
	byName map[string]string // stored name -> id
}

// NewMemoryRepository returns an empty in-process ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*FileRecord),
		byName: make(map[string]string),
	}
}

func (m *MemoryRepository) Create(_ context.Context, rec *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[rec.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicate, rec.ID)
	}
	if _, ok := m.byName[rec.StoredName]; ok {
		return fmt.Errorf("%w: stored name %s", ErrDuplicate, rec.StoredName)
	}
	copied := *rec
	m.byID[rec.ID] = &copied
	m.byName[rec.StoredName] = rec.ID
	return nil
}

func (m *MemoryRepository) ListPage(_ context.Context, page, perPage int, category mediatype.Category) ([]*FileRecord, int64, error) {
	if page < 1 || perPage < 1 {
		return nil, 0, ErrInvalidPage
	}

	m.mu.RLock()
	filtered := make([]*FileRecord, 0, len(m.byID))
	for _, rec := range m.byID {
		if category != "" && rec.Category != category {
			continue
		}
		copied := *rec
		filtered = append(filtered, &copied)
	}
	m.mu.RUnlock()

	sortNewestFirst(filtered)

	total := len(filtered)
	offset := (page - 1) * perPage
	if offset >= total {
		return []*FileRecord{}, int64(total), nil
	}
	end := min(offset+perPage, total)
	return filtered[offset:end], int64(total), nil
}

func (m *MemoryRepository) ListAll(_ context.Context) ([]*FileRecord, error) {
	m.mu.RLock()
	all := make([]*FileRecord, 0, len(m.byID))
	for _, rec := range m.byID {
		copied := *rec
		all = append(all, &copied)
	}
	m.mu.RUnlock()

	sortNewestFirst(all)
	return all, nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *MemoryRepository) GetByStoredName(ctx context.Context, name string) (*FileRecord, error) {
	m.mu.RLock()
	id, ok := m.byName[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryRepository) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byName, rec.StoredName)
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) DeleteByStoredName(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[name]
	if !ok {
		return ErrNotFound
	}
	delete(m.byName, name)
	delete(m.byID, id)
	return nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

// Len returns the number of records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func sortNewestFirst(recs []*FileRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
