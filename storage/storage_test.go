package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStorageSuite exercises the Storage contract against any backend.
func runStorageSuite(t *testing.T, open func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		want := Vector{
			ID:         1,
			Embedding:  []float32{0.1, 0.2, 0.3},
			Attributes: map[string]any{"content": "hello", "memory_type": "short_term"},
		}
		require.NoError(t, s.Save(ctx, []Vector{want}))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Embedding, got.Embedding)
		assert.Equal(t, "hello", got.Attributes["content"])
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		got, err := s.Get(ctx, 42)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, []Vector{{ID: 1, Embedding: []float32{1}}}))
		require.NoError(t, s.Save(ctx, []Vector{{ID: 1, Embedding: []float32{2}}}))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{2}, got.Embedding)
	})

	t.Run("Load", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, []Vector{
			{ID: 1, Embedding: []float32{1, 0}},
			{ID: 2, Embedding: []float32{0, 1}},
			{ID: 3, Embedding: []float32{1, 1}},
		}))

		all, err := s.Load(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)

		ids := make([]int64, 0, len(all))
		for _, v := range all {
			ids = append(ids, v.ID)
		}
		assert.ElementsMatch(t, []int64{1, 2, 3}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, []Vector{
			{ID: 1, Embedding: []float32{1}},
			{ID: 2, Embedding: []float32{2}},
		}))
		require.NoError(t, s.Delete(ctx, []int64{1, 99}))

		got, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.Get(ctx, 2)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("Clear", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, []Vector{{ID: 1, Embedding: []float32{1}}}))
		require.NoError(t, s.Clear(ctx))

		all, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestMemory(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemory()
	})
}

func TestSQLite(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "vectors.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []Vector{
		{ID: 7, Embedding: []float32{1, 2}, Attributes: map[string]any{"content": "kept"}},
	}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{1, 2}, got.Embedding)
	assert.Equal(t, "kept", got.Attributes["content"])
}
