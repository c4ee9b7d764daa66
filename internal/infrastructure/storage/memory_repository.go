package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
	"DropTracker/internal/query"
)

// MemoryRepository keeps records in process memory. It backs local runs and
// tests; ids are decimal strings assigned in insertion order.
type MemoryRepository struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
	now    func() time.Time
}

type memoryTable struct {
	nextID  int64
	records map[int64]domain.TrackedRecord
}

var _ ports.RecordStore = (*MemoryRepository)(nil)

// NewMemoryRepository builds an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: map[string]*memoryTable{}, now: time.Now}
}

func (r *MemoryRepository) table(c domain.Collection) *memoryTable {
	t, ok := r.tables[c.Table]
	if !ok {
		t = &memoryTable{records: map[int64]domain.TrackedRecord{}}
		r.tables[c.Table] = t
	}
	return t
}

func parseMemoryID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 1 {
		return 0, domain.NewError(domain.KindInvalidInput, "record id must be a positive integer", nil)
	}
	return n, nil
}

// List returns one page of records, newest first.
func (r *MemoryRepository) List(ctx context.Context, plan query.ListPlan) ([]domain.TrackedRecord, int64, error) {
	matching := func() []domain.TrackedRecord {
		r.mu.RLock()
		defer r.mu.RUnlock()

		t := r.tables[plan.Collection.Table]
		if t == nil {
			return nil
		}
		out := make([]domain.TrackedRecord, 0, len(t.records))
		for _, rec := range t.records {
			if plan.StageFilter != nil && rec.Stage != *plan.StageFilter {
				continue
			}
			out = append(out, cloneRecord(rec))
		}
		sort.Slice(out, func(i, j int) bool {
			a, _ := strconv.ParseInt(out[i].ID, 10, 64)
			b, _ := strconv.ParseInt(out[j].ID, 10, 64)
			return a > b
		})
		return out
	}

	return listConcurrently(ctx,
		func(context.Context) ([]domain.TrackedRecord, error) {
			all := matching()
			if plan.Offset >= uint64(len(all)) {
				return []domain.TrackedRecord{}, nil
			}
			end := plan.Offset + uint64(plan.Limit)
			if end > uint64(len(all)) {
				end = uint64(len(all))
			}
			return all[plan.Offset:end], nil
		},
		func(context.Context) (int64, error) {
			return int64(len(matching())), nil
		},
	)
}

// Get returns a single record.
func (r *MemoryRepository) Get(_ context.Context, c domain.Collection, id string) (domain.TrackedRecord, error) {
	n, err := parseMemoryID(id)
	if err != nil {
		return domain.TrackedRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if t := r.tables[c.Table]; t != nil {
		if rec, ok := t.records[n]; ok {
			return cloneRecord(rec), nil
		}
	}
	return domain.TrackedRecord{}, notFound(c, id)
}

// UpdateStage moves an existing record from one stage to the next.
func (r *MemoryRepository) UpdateStage(_ context.Context, c domain.Collection, id string, from, next domain.Stage) error {
	return r.mutate(c, id, func(rec *domain.TrackedRecord) error {
		if normalizeStage(c, string(rec.Stage)) != from {
			return fmt.Errorf("update stage of %s in %s: %w", id, c.Name, ports.ErrStageChanged)
		}
		rec.Stage = next
		return nil
	})
}

// SetExtraction stores the extraction payload of an existing record.
func (r *MemoryRepository) SetExtraction(_ context.Context, c domain.Collection, id string, ext domain.Extraction) error {
	return r.mutate(c, id, func(rec *domain.TrackedRecord) error {
		rec.ExtractedLinks = append([]string(nil), ext.Links...)
		rec.ExtractedImages = append([]string(nil), ext.Images...)
		return nil
	})
}

func (r *MemoryRepository) mutate(c domain.Collection, id string, apply func(*domain.TrackedRecord) error) error {
	n, err := parseMemoryID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tables[c.Table]
	if t == nil {
		return notFound(c, id)
	}
	rec, ok := t.records[n]
	if !ok {
		return notFound(c, id)
	}
	if err := apply(&rec); err != nil {
		return err
	}
	t.records[n] = rec
	return nil
}

// Delete removes a record.
func (r *MemoryRepository) Delete(_ context.Context, c domain.Collection, id string) error {
	n, err := parseMemoryID(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tables[c.Table]
	if t == nil {
		return notFound(c, id)
	}
	if _, ok := t.records[n]; !ok {
		return notFound(c, id)
	}
	delete(t.records, n)
	return nil
}

// Insert stores a new pending record.
func (r *MemoryRepository) Insert(_ context.Context, c domain.Collection, rec domain.NewRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.table(c)
	if c.UniqueSourceURL {
		for _, existing := range t.records {
			if existing.SourceURL == rec.SourceURL {
				return "", duplicate(c, rec.SourceURL, nil)
			}
		}
	}

	t.nextID++
	id := strconv.FormatInt(t.nextID, 10)
	t.records[t.nextID] = domain.TrackedRecord{
		ID:           id,
		SourceURL:    rec.SourceURL,
		Title:        rec.Title,
		ThumbnailRef: rec.ThumbnailRef,
		TopicID:      rec.TopicID,
		Stage:        domain.StagePending,
		CreatedAt:    r.now().UTC(),
	}
	return id, nil
}

func cloneRecord(rec domain.TrackedRecord) domain.TrackedRecord {
	rec.ExtractedLinks = append([]string(nil), rec.ExtractedLinks...)
	rec.ExtractedImages = append([]string(nil), rec.ExtractedImages...)
	return rec
}
