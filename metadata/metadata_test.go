package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestAddAndGet(t *testing.T) {
	m := newTestManager(t)

	rec, err := m.Add(1, ShortTerm, 0, map[string]any{"content": "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.VectorID)
	assert.Equal(t, ShortTerm, rec.MemoryType)
	assert.Equal(t, 0, rec.IndexPosition)
	assert.Equal(t, 0, rec.AccessCount)

	got := m.Get(1)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Attributes["content"])
	assert.Equal(t, 1, got.AccessCount, "Get must bump the access counter")

	got = m.Get(1)
	assert.Equal(t, 2, got.AccessCount)
}

func TestGetMissing(t *testing.T) {
	m := newTestManager(t)
	assert.Nil(t, m.Get(42))
	assert.Nil(t, m.GetByPosition(ShortTerm, 0))
}

func TestPeekHasNoSideEffects(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add(1, LongTerm, 0, nil)
	require.NoError(t, err)

	rec := m.Peek(1)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.AccessCount)
	assert.Equal(t, 0, m.Peek(1).AccessCount)
}

func TestDuplicateID(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add(7, ShortTerm, 0, nil)
	require.NoError(t, err)

	_, err = m.Add(7, LongTerm, 0, nil)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetByPosition(t *testing.T) {
	m := newTestManager(t)
	// Same position in different tiers maps to different ids.
	_, err := m.Add(1, ShortTerm, 0, nil)
	require.NoError(t, err)
	_, err = m.Add(2, LongTerm, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.GetByPosition(ShortTerm, 0).VectorID)
	assert.Equal(t, int64(2), m.GetByPosition(LongTerm, 0).VectorID)
}

func TestRemoveLeavesDeadSlot(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add(1, ShortTerm, 0, nil)
	require.NoError(t, err)
	_, err = m.Add(2, ShortTerm, 1, nil)
	require.NoError(t, err)

	assert.True(t, m.Remove(1))
	assert.False(t, m.Remove(1), "second remove of the same id")

	assert.Nil(t, m.Get(1))
	assert.Nil(t, m.GetByPosition(ShortTerm, 0), "dead slot must not resolve")
	assert.NotNil(t, m.GetByPosition(ShortTerm, 1))
	assert.Equal(t, 1, m.Count())
}

func TestUpdateMergesAttributes(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Add(1, ShortTerm, 0, map[string]any{"a": "1", "b": "2"})
	require.NoError(t, err)

	assert.True(t, m.Update(1, map[string]any{"b": "3", "c": "4"}))
	got := m.Peek(1)
	assert.Equal(t, "1", got.Attributes["a"])
	assert.Equal(t, "3", got.Attributes["b"])
	assert.Equal(t, "4", got.Attributes["c"])

	assert.False(t, m.Update(42, map[string]any{"x": "y"}))
}

func TestIDsForType(t *testing.T) {
	m := newTestManager(t)
	m.Add(1, ShortTerm, 0, nil)
	m.Add(2, LongTerm, 0, nil)
	m.Add(3, ShortTerm, 1, nil)

	assert.ElementsMatch(t, []int64{1, 3}, m.IDsForType(ShortTerm))
	assert.ElementsMatch(t, []int64{2}, m.IDsForType(LongTerm))
	assert.ElementsMatch(t, []int64{1, 2, 3}, m.IDs())
}

func TestStats(t *testing.T) {
	m := newTestManager(t)
	m.Add(1, ShortTerm, 0, nil)
	m.Add(2, LongTerm, 0, nil)
	m.Get(1)
	m.Get(1)
	m.Get(2)

	s := m.Stats()
	assert.Equal(t, 2, s.TotalVectors)
	assert.Equal(t, 1, s.TypeDistribution[ShortTerm])
	assert.Equal(t, 1, s.TypeDistribution[LongTerm])
	assert.Equal(t, 3, s.TotalAccessCount)
	assert.Equal(t, 1.5, s.AverageAccess)
	require.NotNil(t, s.OldestVector)
	require.NotNil(t, s.NewestVector)
	assert.False(t, s.NewestVector.Before(*s.OldestVector))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)

	_, err = m.Add(1, ShortTerm, 0, map[string]any{"content": "alpha"})
	require.NoError(t, err)
	_, err = m.Add(2, LongTerm, 0, map[string]any{"content": "beta"})
	require.NoError(t, err)
	m.Get(2)
	require.NoError(t, m.Save())

	// A fresh manager over the same directory picks up the snapshot.
	fresh, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Count())

	rec := fresh.Peek(2)
	require.NotNil(t, rec)
	assert.Equal(t, LongTerm, rec.MemoryType)
	assert.Equal(t, "beta", rec.Attributes["content"])
	assert.Equal(t, 1, rec.AccessCount)

	assert.Equal(t, int64(1), fresh.GetByPosition(ShortTerm, 0).VectorID)
	assert.Equal(t, int64(2), fresh.GetByPosition(LongTerm, 0).VectorID)
}

func TestLoadMissingSnapshotIsColdStart(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Load())
	assert.Equal(t, 0, m.Count())
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	m.Add(1, ShortTerm, 0, nil)
	m.Clear()

	assert.Equal(t, 0, m.Count())
	assert.Nil(t, m.Get(1))
}

func TestRebindPositions(t *testing.T) {
	m := newTestManager(t)
	m.Add(1, ShortTerm, 0, nil)
	m.Add(2, ShortTerm, 1, nil)
	m.Add(3, ShortTerm, 2, nil)
	m.Remove(2)

	// Tier rebuilt without the removed record: 3 moves to slot 1.
	require.NoError(t, m.RebindPositions(ShortTerm, map[int64]int{1: 0, 3: 1}))

	assert.Equal(t, int64(3), m.GetByPosition(ShortTerm, 1).VectorID)
	assert.Nil(t, m.GetByPosition(ShortTerm, 2))
	assert.Equal(t, 1, m.Peek(3).IndexPosition)

	// Rebind must cover every live id of the tier.
	assert.Error(t, m.RebindPositions(ShortTerm, map[int64]int{1: 0}))
	// And reject ids that are not live.
	assert.Error(t, m.RebindPositions(ShortTerm, map[int64]int{1: 0, 3: 1, 9: 2}))
}

func TestCleanupOlderThan(t *testing.T) {
	m := newTestManager(t)
	m.Add(1, ShortTerm, 0, nil)
	m.Add(2, LongTerm, 0, nil)

	assert.Equal(t, 0, m.CleanupOlderThan(30))
	assert.Equal(t, 2, m.Count())

	// Everything was created before "now", so a zero-day cutoff drops it all.
	time.Sleep(time.Millisecond)
	assert.Equal(t, 2, m.CleanupOlderThan(0))
	assert.Equal(t, 0, m.Count())
}
