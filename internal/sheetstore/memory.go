package sheetstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Tables are copied on every read and write so
// callers never share row maps with the store.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*Table

	// FailWrites makes every write fail, for exercising storage errors.
	FailWrites error
}

// NewMemory returns an empty store, optionally seeded with tables.
func NewMemory(seed map[string]*Table) *Memory {
	m := &Memory{tables: make(map[string]*Table, len(seed))}
	for name, t := range seed {
		m.tables[name] = t.Clone()
	}
	return m
}

// ReadTable implements Store.
func (m *Memory) ReadTable(ctx context.Context, name string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrTableNotFound)
	}
	return t.Clone(), nil
}

// WriteTable implements Store.
func (m *Memory) WriteTable(ctx context.Context, name string, table *Table) error {
	return m.WriteTables(ctx, map[string]*Table{name: table})
}

// WriteTables implements BatchWriter.
func (m *Memory) WriteTables(ctx context.Context, tables map[string]*Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, t := range tables {
		if t == nil {
			t = &Table{}
		}
		m.tables[name] = t.Clone()
	}
	return nil
}
