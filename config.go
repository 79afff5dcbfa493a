package memvec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"memvec/cache"
	"memvec/embedder"
	"memvec/index"
	"memvec/storage"
)

// Config holds configuration for a Store. Zero fields take defaults from
// DefaultConfig when built.
type Config struct {
	Dimension  int    `json:"dimension" yaml:"dimension"`
	PersistDir string `json:"persist_dir" yaml:"persist_dir"`

	// IndexKind selects the engine per tier: "flat" (exact) or "ivf"
	// (approximate).
	IndexKind string `json:"index_kind,omitempty" yaml:"index_kind,omitempty"`

	// IVF tuning; ignored for flat indexes.
	NList          int `json:"nlist,omitempty" yaml:"nlist,omitempty"`
	NProbe         int `json:"nprobe,omitempty" yaml:"nprobe,omitempty"`
	TrainThreshold int `json:"train_threshold,omitempty" yaml:"train_threshold,omitempty"`

	// SaveInterval snapshots the store every N insertions. 0 takes the
	// default; negative disables auto-save.
	SaveInterval int `json:"save_interval,omitempty" yaml:"save_interval,omitempty"`

	// SQLitePath enables the durable raw-vector backend.
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`

	// CacheDir enables the embedding cache; CacheMaxEntries bounds it.
	CacheDir        string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`
	CacheMaxEntries int    `json:"cache_max_entries,omitempty" yaml:"cache_max_entries,omitempty"`
}

// DefaultConfig returns sensible defaults for the store.
func DefaultConfig() Config {
	return Config{
		IndexKind:       index.KindFlat,
		NList:           100,
		NProbe:          8,
		TrainThreshold:  1000,
		SaveInterval:    100,
		CacheMaxEntries: 10000,
	}
}

// LoadConfig reads a Config from a YAML or JSON file, chosen by extension.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("memvec: read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("memvec: unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("memvec: parse config: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.IndexKind == "" {
		c.IndexKind = def.IndexKind
	}
	if c.NList <= 0 {
		c.NList = def.NList
	}
	if c.NProbe <= 0 {
		c.NProbe = def.NProbe
	}
	if c.TrainThreshold <= 0 {
		c.TrainThreshold = def.TrainThreshold
	}
	if c.SaveInterval == 0 {
		c.SaveInterval = def.SaveInterval
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = def.CacheMaxEntries
	}
	return c
}

// Builder configures a Store.
type Builder struct {
	cfg   Config
	embed embedder.Embedder
	cache *cache.EmbeddingCache
	store storage.Storage
}

// NewBuilder creates a new Store builder.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// FromConfig seeds the builder from a Config.
func (b *Builder) FromConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithDimension sets the vector dimension. Required.
func (b *Builder) WithDimension(dim int) *Builder {
	b.cfg.Dimension = dim
	return b
}

// WithPersistDir sets the snapshot directory. Required.
func (b *Builder) WithPersistDir(dir string) *Builder {
	b.cfg.PersistDir = dir
	return b
}

// WithIndexKind selects "flat" or "ivf" for both tiers.
func (b *Builder) WithIndexKind(kind string) *Builder {
	b.cfg.IndexKind = kind
	return b
}

// WithIVF selects the approximate engine and tunes it.
func (b *Builder) WithIVF(nlist, nprobe, trainThreshold int) *Builder {
	b.cfg.IndexKind = index.KindIVF
	b.cfg.NList = nlist
	b.cfg.NProbe = nprobe
	b.cfg.TrainThreshold = trainThreshold
	return b
}

// WithSaveInterval snapshots every n insertions; n < 0 disables auto-save.
func (b *Builder) WithSaveInterval(n int) *Builder {
	b.cfg.SaveInterval = n
	return b
}

// WithEmbedder sets the embedding collaborator used by AddMemory and
// SearchMemories.
func (b *Builder) WithEmbedder(e embedder.Embedder) *Builder {
	b.embed = e
	return b
}

// WithCache routes embedding lookups through an embedding cache.
func (b *Builder) WithCache(c *cache.EmbeddingCache) *Builder {
	b.cache = c
	return b
}

// WithStorage sets the raw-vector backend (default in-memory).
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.store = s
	return b
}

// WithSQLite enables the SQLite raw-vector backend at path.
func (b *Builder) WithSQLite(path string) *Builder {
	b.cfg.SQLitePath = path
	return b
}
