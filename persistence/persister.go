// Package persistence serializes named indexes to a directory. Each index
// becomes one binary file plus an optional JSON sidecar, and a single
// catalog file records what exists so listing never has to open the
// binaries.
package persistence

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memvec/index"
)

const (
	catalogFile = "index_config.json"
	indexExt    = ".index"
)

// IndexInfo describes a persisted index without mutating it.
type IndexInfo struct {
	Name         string         `json:"name"`
	FileSize     int64          `json:"file_size"`
	CreatedTime  time.Time      `json:"created_time"`
	ModifiedTime time.Time      `json:"modified_time"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Dimension    int            `json:"dimension"`
	TotalVectors int            `json:"total_vectors"`
	Trained      bool           `json:"is_trained"`
}

// catalogEntry is one record in index_config.json.
type catalogEntry struct {
	CreatedTime float64        `json:"created_time"` // unix seconds
	Metadata    map[string]any `json:"metadata"`
}

// envelope is the on-disk framing of an index file: the concrete kind and
// dimension up front, the engine's own serialization as payload.
type envelope struct {
	Kind      string
	Dimension int
	Payload   []byte
}

// Persister owns no live state, only file handles for the duration of a
// call. Concurrent saves of the same name would corrupt the file; the
// internal lock serializes calls through one Persister instance.
type Persister struct {
	dir string
	mu  sync.Mutex
}

// New creates a persister writing under dir.
func New(dir string) (*Persister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create dir: %w", err)
	}
	return &Persister{dir: dir}, nil
}

// Dir returns the persistence directory.
func (p *Persister) Dir() string { return p.dir }

func (p *Persister) indexPath(name string) string {
	return filepath.Join(p.dir, name+indexExt)
}

func (p *Persister) sidecarPath(name string) string {
	return filepath.Join(p.dir, name+"_metadata.json")
}

// SaveIndex writes the index under name, an optional metadata sidecar, and
// updates the catalog.
func (p *Persister) SaveIndex(name string, idx index.Index, meta map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload, err := idx.Marshal()
	if err != nil {
		return fmt.Errorf("persistence: marshal index %q: %w", name, err)
	}

	var buf bytes.Buffer
	env := envelope{Kind: idx.Kind(), Dimension: idx.Dimension(), Payload: payload}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("persistence: encode index %q: %w", name, err)
	}
	if err := os.WriteFile(p.indexPath(name), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("persistence: write index %q: %w", name, err)
	}

	if meta != nil {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("persistence: marshal sidecar %q: %w", name, err)
		}
		if err := os.WriteFile(p.sidecarPath(name), data, 0o644); err != nil {
			return fmt.Errorf("persistence: write sidecar %q: %w", name, err)
		}
	}

	catalog, err := p.loadCatalog()
	if err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	catalog[name] = catalogEntry{
		CreatedTime: float64(time.Now().UnixNano()) / 1e9,
		Metadata:    meta,
	}
	return p.saveCatalog(catalog)
}

// LoadIndex reads the index saved under name. A missing snapshot returns
// (nil, nil): no prior state is the normal cold-start case.
func (p *Persister) LoadIndex(name string) (index.Index, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.indexPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read index %q: %w", name, err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("persistence: decode index %q: %w", name, err)
	}
	idx, err := index.NewOfKind(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("persistence: index %q: %w", name, err)
	}
	if err := idx.Unmarshal(env.Payload); err != nil {
		return nil, fmt.Errorf("persistence: restore index %q: %w", name, err)
	}
	return idx, nil
}

// LoadIndexMetadata reads the sidecar for name, or (nil, nil) if absent.
func (p *Persister) LoadIndexMetadata(name string) (map[string]any, error) {
	data, err := os.ReadFile(p.sidecarPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read sidecar %q: %w", name, err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("persistence: decode sidecar %q: %w", name, err)
	}
	return meta, nil
}

// DeleteIndex removes the index file, its sidecar and its catalog entry.
func (p *Persister) DeleteIndex(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, path := range []string{p.indexPath(name), p.sidecarPath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("persistence: delete %q: %w", path, err)
		}
	}

	catalog, err := p.loadCatalog()
	if err != nil {
		return err
	}
	delete(catalog, name)
	return p.saveCatalog(catalog)
}

// ListIndices returns the names of all persisted indexes.
func (p *Persister) ListIndices() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list %q: %w", p.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), indexExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), indexExt))
	}
	return names, nil
}

// IndexInfo describes the persisted index, or (nil, nil) if it does not
// exist.
func (p *Persister) IndexInfo(name string) (*IndexInfo, error) {
	stat, err := os.Stat(p.indexPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: stat index %q: %w", name, err)
	}

	info := &IndexInfo{
		Name:         name,
		FileSize:     stat.Size(),
		CreatedTime:  stat.ModTime(),
		ModifiedTime: stat.ModTime(),
	}

	if meta, err := p.LoadIndexMetadata(name); err == nil {
		info.Metadata = meta
	}

	catalog, err := p.loadCatalog()
	if err == nil {
		if entry, ok := catalog[name]; ok {
			sec := int64(entry.CreatedTime)
			nsec := int64((entry.CreatedTime - float64(sec)) * 1e9)
			info.CreatedTime = time.Unix(sec, nsec)
		}
	}

	idx, err := p.LoadIndex(name)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		info.Dimension = idx.Dimension()
		info.TotalVectors = idx.Count()
		info.Trained = idx.Trained()
	}
	return info, nil
}

// CleanupOlderThan deletes indexes whose files have not been modified in
// maxAgeDays and returns how many were removed.
func (p *Persister) CleanupOlderThan(maxAgeDays int) (int, error) {
	names, err := p.ListIndices()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for _, name := range names {
		stat, err := os.Stat(p.indexPath(name))
		if err != nil {
			continue
		}
		if stat.ModTime().Before(cutoff) {
			if err := p.DeleteIndex(name); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (p *Persister) loadCatalog() (map[string]catalogEntry, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, catalogFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]catalogEntry{}, nil
		}
		return nil, fmt.Errorf("persistence: read catalog: %w", err)
	}
	var catalog map[string]catalogEntry
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("persistence: decode catalog: %w", err)
	}
	return catalog, nil
}

func (p *Persister) saveCatalog(catalog map[string]catalogEntry) error {
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal catalog: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, catalogFile), data, 0o644); err != nil {
		return fmt.Errorf("persistence: write catalog: %w", err)
	}
	return nil
}
