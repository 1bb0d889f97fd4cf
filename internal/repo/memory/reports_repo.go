package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/geocoder89/progresshub/internal/domain/report"
)

type ReportsRepo struct {
	mu    sync.RWMutex
	items map[string]report.Report
}

func NewReportsRepo() *ReportsRepo {
	return &ReportsRepo{
		items: make(map[string]report.Report),
	}
}

func (r *ReportsRepo) Create(_ context.Context, rep report.Report) (report.Report, error) {
	r.mu.Lock()
	r.items[rep.ID] = rep
	r.mu.Unlock()

	return rep, nil
}

func (r *ReportsRepo) List(_ context.Context, f report.ListFilter) ([]report.Report, int, error) {
	r.mu.RLock()
	matched := make([]report.Report, 0, len(r.items))
	for _, rep := range r.items {
		if f.Status != nil && rep.Status != *f.Status {
			continue
		}
		matched = append(matched, rep)
	}
	r.mu.RUnlock()

	// newest first, id as tie-breaker like the SQL ordering
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)

	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Offset >= total {
		return []report.Report{}, total, nil
	}

	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}

	return matched[f.Offset:end], total, nil
}

func (r *ReportsRepo) GetByID(_ context.Context, id string) (report.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.items[id]
	if !ok {
		return report.Report{}, report.ErrNotFound
	}

	return rep, nil
}

func (r *ReportsRepo) Update(_ context.Context, id string, req report.UpdateReportRequest) (report.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep, ok := r.items[id]
	if !ok {
		return report.Report{}, report.ErrNotFound
	}

	rep = rep.Apply(req)
	r.items[id] = rep

	return rep, nil
}

func (r *ReportsRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return report.ErrNotFound
	}

	delete(r.items, id)

	return nil
}
