// Package metadata is the authoritative record of every stored vector: its
// external id, owning tier, append position inside that tier's index,
// timestamps, access counters and caller-supplied attributes.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// MemoryType selects which index tier holds a vector.
type MemoryType string

const (
	ShortTerm MemoryType = "short_term"
	LongTerm  MemoryType = "long_term"
)

// Valid reports whether t names a known tier.
func (t MemoryType) Valid() bool {
	return t == ShortTerm || t == LongTerm
}

// ErrDuplicateID is returned when adding a record whose id is already live.
var ErrDuplicateID = errors.New("metadata: vector id already exists")

const snapshotFile = "vector_metadata.json"

// Record describes one stored vector.
type Record struct {
	VectorID      int64          `json:"vector_id"`
	MemoryType    MemoryType     `json:"memory_type"`
	IndexPosition int            `json:"index_position"`
	CreatedAt     time.Time      `json:"created_at"`
	LastAccessed  time.Time      `json:"last_accessed"`
	AccessCount   int            `json:"access_count"`
	Attributes    map[string]any `json:"metadata"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Attributes = make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		cp.Attributes[k] = v
	}
	return &cp
}

// Stats summarizes the live records.
type Stats struct {
	TotalVectors     int                `json:"total_vectors"`
	TypeDistribution map[MemoryType]int `json:"type_distribution"`
	TotalAccessCount int                `json:"total_access_count"`
	AverageAccess    float64            `json:"average_access_per_vector"`
	OldestVector     *time.Time         `json:"oldest_vector,omitempty"`
	NewestVector     *time.Time         `json:"newest_vector,omitempty"`
}

// Manager owns the id↔position bookkeeping for both tiers.
//
// Removal deletes the mappings only; the underlying index keeps the vector
// as a dead slot, so a raw index search can still surface a position that
// no longer resolves here. Callers treat a failed GetByPosition as a
// non-result.
type Manager struct {
	dir  string
	path string

	records   map[int64]*Record
	idToIndex map[int64]int
	indexToID map[MemoryType]map[int]int64

	mu sync.RWMutex
}

// New creates a manager persisting under dir. An existing snapshot is
// loaded; a missing one is the normal cold-start case.
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metadata: create dir: %w", err)
	}
	m := &Manager{
		dir:  dir,
		path: filepath.Join(dir, snapshotFile),
	}
	m.reset()
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) reset() {
	m.records = make(map[int64]*Record)
	m.idToIndex = make(map[int64]int)
	m.indexToID = map[MemoryType]map[int]int64{
		ShortTerm: make(map[int]int64),
		LongTerm:  make(map[int]int64),
	}
}

// Add records a vector at the position its index assigned. The position
// must come from the index's physical insertion counter so that id↔position
// mapping stays valid after removals.
func (m *Manager) Add(id int64, memoryType MemoryType, position int, attributes map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if attributes == nil {
		attributes = make(map[string]any)
	}

	now := time.Now().UTC()
	rec := &Record{
		VectorID:      id,
		MemoryType:    memoryType,
		IndexPosition: position,
		CreatedAt:     now,
		LastAccessed:  now,
		Attributes:    attributes,
	}
	m.records[id] = rec
	m.idToIndex[id] = position
	m.indexToID[memoryType][position] = id
	return rec.clone(), nil
}

// Get returns the record for id, bumping its access stats, or nil if the
// id is not live.
func (m *Manager) Get(id int64) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	rec.LastAccessed = time.Now().UTC()
	rec.AccessCount++
	return rec.clone()
}

// Has reports whether id is live, without touching access stats.
func (m *Manager) Has(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

// Peek returns the record for id without the access side effects of Get,
// or nil if the id is not live.
func (m *Manager) Peek(id int64) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	return rec.clone()
}

// GetByPosition resolves a tier position to its live record, or nil if the
// slot is dead.
func (m *Manager) GetByPosition(memoryType MemoryType, position int) *Record {
	m.mu.RLock()
	id, ok := m.indexToID[memoryType][position]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.Get(id)
}

// Update merges attributes into an existing record. Returns false when the
// id is not live.
func (m *Manager) Update(id int64, attributes map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return false
	}
	for k, v := range attributes {
		rec.Attributes[k] = v
	}
	rec.LastAccessed = time.Now().UTC()
	return true
}

// Remove deletes the id→record, id→position and position→id mappings.
// The index slot itself stays behind as dead weight until the tier is
// rebuilt. Returns false when the id is not live.
func (m *Manager) Remove(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return false
	}
	delete(m.records, id)
	delete(m.idToIndex, id)
	delete(m.indexToID[rec.MemoryType], rec.IndexPosition)
	return true
}

// IDs returns all live vector ids.
func (m *Manager) IDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

// IDsForType returns the live vector ids in one tier.
func (m *Manager) IDsForType(memoryType MemoryType) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, rec := range m.records {
		if rec.MemoryType == memoryType {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the number of live records.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Stats summarizes live records without touching access counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		TotalVectors:     len(m.records),
		TypeDistribution: make(map[MemoryType]int),
	}
	for _, rec := range m.records {
		s.TypeDistribution[rec.MemoryType]++
		s.TotalAccessCount += rec.AccessCount
		created := rec.CreatedAt
		if s.OldestVector == nil || created.Before(*s.OldestVector) {
			t := created
			s.OldestVector = &t
		}
		if s.NewestVector == nil || created.After(*s.NewestVector) {
			t := created
			s.NewestVector = &t
		}
	}
	if s.TotalVectors > 0 {
		s.AverageAccess = float64(s.TotalAccessCount) / float64(s.TotalVectors)
	}
	return s
}

// snapshot is the on-disk layout of vector_metadata.json. Integer map keys
// are serialized as strings, as JSON requires.
type snapshot struct {
	Metadata  map[string]*Record              `json:"metadata"`
	IDToIndex map[string]int                  `json:"id_to_index"`
	IndexToID map[MemoryType]map[string]int64 `json:"index_to_id"`
	SavedAt   time.Time                       `json:"saved_at"`
}

// Save writes the full in-memory state as one JSON snapshot. There is no
// incremental log; mutations since the last Save are lost on crash.
func (m *Manager) Save() error {
	m.mu.RLock()
	snap := snapshot{
		Metadata:  make(map[string]*Record, len(m.records)),
		IDToIndex: make(map[string]int, len(m.idToIndex)),
		IndexToID: make(map[MemoryType]map[string]int64, len(m.indexToID)),
		SavedAt:   time.Now().UTC(),
	}
	for id, rec := range m.records {
		snap.Metadata[strconv.FormatInt(id, 10)] = rec.clone()
	}
	for id, pos := range m.idToIndex {
		snap.IDToIndex[strconv.FormatInt(id, 10)] = pos
	}
	for mt, positions := range m.indexToID {
		out := make(map[string]int64, len(positions))
		for pos, id := range positions {
			out[strconv.Itoa(pos)] = id
		}
		snap.IndexToID[mt] = out
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("metadata: write snapshot: %w", err)
	}
	return nil
}

// Load replaces the in-memory state with the last snapshot. A missing file
// leaves the manager empty and is not an error.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("metadata: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("metadata: decode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	for key, rec := range snap.Metadata {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("metadata: bad id key %q: %w", key, err)
		}
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]any)
		}
		m.records[id] = rec
		m.idToIndex[id] = rec.IndexPosition
		if _, ok := m.indexToID[rec.MemoryType]; !ok {
			m.indexToID[rec.MemoryType] = make(map[int]int64)
		}
		m.indexToID[rec.MemoryType][rec.IndexPosition] = id
	}
	return nil
}

// Clear drops all records.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// RebindPositions replaces one tier's position bookkeeping wholesale, after
// the tier's index was rebuilt. Every live id of the tier must appear in
// positions.
func (m *Manager) RebindPositions(memoryType MemoryType, positions map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rebound := make(map[int]int64, len(positions))
	for id, pos := range positions {
		rec, ok := m.records[id]
		if !ok || rec.MemoryType != memoryType {
			return fmt.Errorf("metadata: rebind of unknown %s id %d", memoryType, id)
		}
		rebound[pos] = id
	}
	for id, rec := range m.records {
		if rec.MemoryType != memoryType {
			continue
		}
		pos, ok := positions[id]
		if !ok {
			return fmt.Errorf("metadata: rebind missing %s id %d", memoryType, id)
		}
		rec.IndexPosition = pos
		m.idToIndex[id] = pos
	}
	m.indexToID[memoryType] = rebound
	return nil
}

// CleanupOlderThan removes records created more than maxAgeDays ago and
// returns how many were dropped.
func (m *Manager) CleanupOlderThan(maxAgeDays int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for id, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			delete(m.idToIndex, id)
			delete(m.indexToID[rec.MemoryType], rec.IndexPosition)
			removed++
		}
	}
	return removed
}
