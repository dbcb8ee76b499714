package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	sr "github.com/tryfix/schemaregistry/v3"
)

// DefaultMaxEntrySize is the largest entry value a MemoryTable accepts unless configured.
const DefaultMaxEntrySize = 1024 * 1024

type memoryEntry struct {
	value   []byte
	version Version
}

type memoryTable struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// MemoryTable is an in process Table. Each table has its own lock, there is no lock across
// tables beyond the directory of table names. Entry versions come from one counter shared by
// every table, so a recreated table never repeats a version of its previous incarnation.
type MemoryTable struct {
	mu           sync.RWMutex
	tables       map[string]*memoryTable
	maxEntrySize int
	next         atomic.Int64
}

// NewMemoryTable returns an empty MemoryTable. maxEntrySize <= 0 selects DefaultMaxEntrySize.
func NewMemoryTable(maxEntrySize int) *MemoryTable {
	if maxEntrySize <= 0 {
		maxEntrySize = DefaultMaxEntrySize
	}

	return &MemoryTable{
		tables:       make(map[string]*memoryTable),
		maxEntrySize: maxEntrySize,
	}
}

func (m *MemoryTable) CreateTable(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; ok {
		return sr.NewError(sr.KindGroupExists, `memoryTable.CreateTable`, fmt.Sprintf(`table [%s] exists`, table))
	}

	m.tables[table] = &memoryTable{entries: make(map[string]memoryEntry)}
	return nil
}

func (m *MemoryTable) DeleteTable(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		return tableNotFound(`memoryTable.DeleteTable`, table)
	}

	delete(m.tables, table)
	return nil
}

func (m *MemoryTable) Get(_ context.Context, table string, key []byte) (Entry, error) {
	t, err := m.table(`memoryTable.Get`, table)
	if err != nil {
		return Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[string(key)]
	if !ok {
		return Entry{}, sr.NewError(sr.KindNotFound, `memoryTable.Get`, fmt.Sprintf(`key not found in [%s]`, table))
	}

	return Entry{Key: bytes.Clone(key), Value: bytes.Clone(e.value), Version: e.version}, nil
}

func (m *MemoryTable) Put(_ context.Context, table string, entries ...Entry) ([]Version, error) {
	t, err := m.table(`memoryTable.Put`, table)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if len(e.Value) > m.maxEntrySize {
			return nil, sr.NewError(sr.KindConfiguration, `memoryTable.Put`,
				fmt.Sprintf(`entry of %d bytes exceeds the limit of %d`, len(e.Value), m.maxEntrySize))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(`memoryTable.Put`, entries); err != nil {
		return nil, err
	}

	versions := make([]Version, len(entries))
	for i, e := range entries {
		versions[i] = Version(m.next.Add(1) - 1)
		t.entries[string(e.Key)] = memoryEntry{value: bytes.Clone(e.Value), version: versions[i]}
	}

	return versions, nil
}

func (m *MemoryTable) Delete(_ context.Context, table string, keys ...Entry) error {
	t, err := m.table(`memoryTable.Delete`, table)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(`memoryTable.Delete`, keys); err != nil {
		return err
	}

	for _, k := range keys {
		delete(t.entries, string(k.Key))
	}

	return nil
}

func (m *MemoryTable) MaxEntrySize() int { return m.maxEntrySize }

func (m *MemoryTable) table(op, name string) (*memoryTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[name]
	if !ok {
		return nil, tableNotFound(op, name)
	}

	return t, nil
}

// check verifies every expected version before anything is applied.
func (t *memoryTable) check(op string, entries []Entry) error {
	for _, e := range entries {
		current, ok := t.entries[string(e.Key)]
		switch {
		case e.Version == AnyVersion:
		case e.Version == NotExists && ok:
			return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`key exists at version %d`, current.version))
		case e.Version == NotExists:
		case !ok:
			return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`expected version %d, key does not exist`, e.Version))
		case current.version != e.Version:
			return sr.NewError(sr.KindConcurrentModification, op, fmt.Sprintf(`expected version %d, found %d`, e.Version, current.version))
		}
	}

	return nil
}

func tableNotFound(op, table string) error {
	return sr.NewError(sr.KindGroupNotFound, op, fmt.Sprintf(`table [%s] does not exist`, table))
}
