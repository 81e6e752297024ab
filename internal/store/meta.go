// Package store provides the persisted metadata sidecar for the vector index.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ChunkRecord is one metadata entry, positionally aligned with the vector index.
type ChunkRecord struct {
	Source string `json:"source"`
	Text   string `json:"text"`
	ID     string `json:"id"`
	Offset int    `json:"offset"`
}

// MetaStore holds the ordered chunk records backing the vector index positions.
// It persists to a JSON file whose presence marks the index pair as ready,
// so it must always be written after the index binary.
type MetaStore struct {
	records []ChunkRecord
	mu      sync.RWMutex
}

// NewMetaStore returns an empty metadata store.
func NewMetaStore() *MetaStore {
	return &MetaStore{records: make([]ChunkRecord, 0)}
}

// Append adds records at the end, in order.
func (m *MetaStore) Append(records ...ChunkRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// At returns the record at position i.
func (m *MetaStore) At(i int) ChunkRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[i]
}

// Len returns the number of records.
func (m *MetaStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records returns a copy of all records in position order.
func (m *MetaStore) Records() []ChunkRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChunkRecord, len(m.records))
	copy(out, m.records)
	return out
}

// CountBySource returns the number of records with the given source.
func (m *MetaStore) CountBySource(source string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.Source == source {
			n++
		}
	}
	return n
}

// PositionsExcluding returns the positions of all records whose source is not
// in sources, in position order. Used to drop a source's chunks on re-ingestion.
func (m *MetaStore) PositionsExcluding(sources map[string]bool) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keep := make([]int, 0, len(m.records))
	for i, r := range m.records {
		if !sources[r.Source] {
			keep = append(keep, i)
		}
	}
	return keep
}

// Select returns a new store containing the records at the given positions, in order.
func (m *MetaStore) Select(positions []int) (*MetaStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := NewMetaStore()
	for _, p := range positions {
		if p < 0 || p >= len(m.records) {
			return nil, fmt.Errorf("position %d out of range [0,%d)", p, len(m.records))
		}
		out.records = append(out.records, m.records[p])
	}
	return out, nil
}

// Save writes the records to path atomically (temp file, then rename), creating
// the directory if needed.
func (m *MetaStore) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	data, err := json.Marshal(m.records)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename meta: %w", err)
	}
	return nil
}

// Load reads records from path, replacing the in-memory contents. If the file
// does not exist, no error is returned and the store is unchanged.
func (m *MetaStore) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read meta: %w", err)
	}
	var records []ChunkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse meta: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	return nil
}
