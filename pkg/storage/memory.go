package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps collections in process memory. Each call is atomic on
// its own; Update is deliberately not provided so it behaves like the file
// store under concurrent read-modify-write.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Collection][]Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Collection][]Row)}
}

func (m *MemoryStore) ReadAll(ctx context.Context, c Collection) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("read", c, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.data[c]
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneRow(c, r))
	}
	return out, nil
}

func (m *MemoryStore) ReplaceAll(ctx context.Context, c Collection, rows []Row) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("replace", c, err)
	}
	next := make([]Row, 0, len(rows))
	for _, r := range rows {
		next = append(next, cloneRow(c, r))
	}
	m.mu.Lock()
	m.data[c] = next
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, c Collection, row Row) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("append", c, err)
	}
	m.mu.Lock()
	m.data[c] = append(m.data[c], cloneRow(c, row))
	m.mu.Unlock()
	return nil
}

// cloneRow copies only the schema columns, matching what a file backend
// would persist.
func cloneRow(c Collection, r Row) Row {
	out := make(Row, len(c.Columns()))
	for _, col := range c.Columns() {
		out[col] = r.Get(col)
	}
	return out
}
