package index

import (
	"errors"
	"math"
	"testing"
)

func TestFlat_InsertAssignsAppendPositions(t *testing.T) {
	f := NewFlat(2)

	for want := 0; want < 3; want++ {
		pos, err := f.Insert([]float32{float32(want), 1})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if pos != want {
			t.Errorf("position = %d, want %d", pos, want)
		}
	}
	if f.Count() != 3 {
		t.Errorf("Count = %d, want 3", f.Count())
	}
}

func TestFlat_DimensionMismatch(t *testing.T) {
	f := NewFlat(3)

	if _, err := f.Insert([]float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Insert err = %v, want ErrDimensionMismatch", err)
	}
	if f.Count() != 0 {
		t.Errorf("failed insert mutated index: Count = %d", f.Count())
	}
	if _, err := f.Search([]float32{1, 2}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Search err = %v, want ErrDimensionMismatch", err)
	}
}

func TestFlat_SearchEmpty(t *testing.T) {
	f := NewFlat(2)

	results, err := f.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestFlat_SearchInnerProductOrdering(t *testing.T) {
	f := NewFlat(2)
	f.Insert([]float32{1, 0})     // A, position 0
	f.Insert([]float32{0, 1})     // B, position 1
	f.Insert([]float32{0.9, 0.1}) // C, position 2

	results, err := f.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Position != 0 || math.Abs(float64(results[0].Score)-1.0) > 1e-6 {
		t.Errorf("top = %+v, want position 0 score 1.0", results[0])
	}
	if results[1].Position != 2 || math.Abs(float64(results[1].Score)-0.9) > 1e-6 {
		t.Errorf("second = %+v, want position 2 score 0.9", results[1])
	}
}

func TestFlat_Reconstruct(t *testing.T) {
	f := NewFlat(2)
	f.Insert([]float32{1, 2})
	f.Insert([]float32{3, 4})

	vec, err := f.Reconstruct(1)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if vec[0] != 3 || vec[1] != 4 {
		t.Errorf("Reconstruct(1) = %v, want [3 4]", vec)
	}

	if _, err := f.Reconstruct(5); !errors.Is(err, ErrInvalidPosition) {
		t.Errorf("Reconstruct(5) err = %v, want ErrInvalidPosition", err)
	}
}

func TestFlat_MarshalRoundTrip(t *testing.T) {
	f := NewFlat(2)
	f.Insert([]float32{1, 0})
	f.Insert([]float32{0.5, 0.5})

	data, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	restored := NewFlat(0)
	if err := restored.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if restored.Dimension() != 2 || restored.Count() != 2 {
		t.Fatalf("restored dim=%d count=%d", restored.Dimension(), restored.Count())
	}

	results, err := restored.Search([]float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].Position != 0 {
		t.Errorf("top position = %d, want 0", results[0].Position)
	}
}

func TestFlat_Reset(t *testing.T) {
	f := NewFlat(2)
	f.Insert([]float32{1, 0})
	f.Reset()

	if f.Count() != 0 {
		t.Errorf("Count after Reset = %d, want 0", f.Count())
	}
	if !f.Trained() {
		t.Error("flat index must always be trained")
	}
}

func TestNewOfKind(t *testing.T) {
	if _, err := NewOfKind(KindFlat); err != nil {
		t.Errorf("NewOfKind(flat) failed: %v", err)
	}
	if _, err := NewOfKind(KindIVF); err != nil {
		t.Errorf("NewOfKind(ivf) failed: %v", err)
	}
	if _, err := NewOfKind("bogus"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("NewOfKind(bogus) err = %v, want ErrUnknownKind", err)
	}
}
