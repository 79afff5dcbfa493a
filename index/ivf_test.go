package index

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func newTestIVF() *IVF {
	// Probe every cluster so results stay exhaustive and assertions exact.
	return NewIVF(4, IVFConfig{NList: 4, NProbe: 4, TrainThreshold: 10})
}

func insertGrid(t *testing.T, v *IVF, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		vec := []float32{float32(i), float32(i % 3), 1, 0}
		if _, err := v.Insert(vec); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
}

func TestIVF_UntrainedFallsBackToExactScan(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 5)

	if v.Trained() {
		t.Fatal("index should not train below the threshold")
	}

	results, err := v.Search([]float32{4, 1, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Position != 4 {
		t.Fatalf("results = %+v, want position 4 on top", results)
	}
}

func TestIVF_TrainsAtThreshold(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 9)
	if v.Trained() {
		t.Fatal("trained too early")
	}

	if _, err := v.Insert([]float32{9, 0, 1, 0}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !v.Trained() {
		t.Fatal("index should train when the threshold is reached")
	}

	// Inserts after training keep assigning append positions.
	pos, err := v.Insert([]float32{10, 1, 1, 0})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if pos != 10 {
		t.Errorf("position = %d, want 10", pos)
	}
}

func TestIVF_SearchAfterTraining(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 12)
	if !v.Trained() {
		t.Fatal("expected trained index")
	}

	query := []float32{11, 2, 1, 0}
	results, err := v.Search(query, 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Position != 11 {
		t.Errorf("top position = %d, want 11", results[0].Position)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending: %+v", results)
		}
	}
}

func TestIVF_DimensionMismatch(t *testing.T) {
	v := newTestIVF()

	if _, err := v.Insert([]float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Insert err = %v, want ErrDimensionMismatch", err)
	}
	if v.Count() != 0 {
		t.Errorf("failed insert mutated index: Count = %d", v.Count())
	}
}

func TestIVF_SearchEmpty(t *testing.T) {
	v := newTestIVF()
	results, err := v.Search([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestIVF_MarshalRoundTrip(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 12)

	data, err := v.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	restored := NewIVF(0, IVFConfig{})
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if restored.Count() != 12 || restored.Dimension() != 4 {
		t.Fatalf("restored count=%d dim=%d", restored.Count(), restored.Dimension())
	}
	if !restored.Trained() {
		t.Fatal("trained state lost in round trip")
	}

	results, err := restored.Search([]float32{11, 2, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].Position != 11 {
		t.Errorf("top position = %d, want 11", results[0].Position)
	}
}

func TestIVF_Reconstruct(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 3)

	vec, err := v.Reconstruct(2)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	want := []float32{2, 2, 1, 0}
	for i := range want {
		if math.Abs(float64(vec[i]-want[i])) > 1e-6 {
			t.Fatalf("Reconstruct(2) = %v, want %v", vec, want)
		}
	}
}

func TestIVF_Reset(t *testing.T) {
	v := newTestIVF()
	insertGrid(t, v, 12)
	v.Reset()

	if v.Count() != 0 || v.Trained() {
		t.Errorf("Reset left count=%d trained=%v", v.Count(), v.Trained())
	}
}

func TestIVF_TrainingIsDeterministic(t *testing.T) {
	build := func() *IVF {
		v := newTestIVF()
		insertGrid(t, v, 12)
		return v
	}
	a, b := build(), build()

	qa, _ := a.Search([]float32{5, 1, 1, 0}, 4)
	qb, _ := b.Search([]float32{5, 1, 1, 0}, 4)
	if fmt.Sprint(qa) != fmt.Sprint(qb) {
		t.Errorf("same corpus trained differently: %v vs %v", qa, qb)
	}
}
