// Package memory is an in-process DealMirror for the worker's dry-run mode
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"dealbook/internal/core"
	ports "dealbook/internal/sheets"
)

type Mirror struct {
	mu   sync.Mutex
	rows map[string]core.Deal
}

var _ ports.DealMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{rows: make(map[string]core.Deal)}
}

func (m *Mirror) UpsertDeal(_ context.Context, d core.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[d.ID] = d
	return nil
}

func (m *Mirror) DeleteDeal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// Rows returns the mirrored deals ordered by ID.
func (m *Mirror) Rows() []core.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Deal, 0, len(m.rows))
	for _, d := range m.rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
