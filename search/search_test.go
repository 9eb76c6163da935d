package search

import (
	"path/filepath"
	"testing"

	"github.com/Felmond13/raptor/engine"
)

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("identical vectors: expected 1, got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors: expected 0, got %v", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("zero-magnitude vector: expected 0, got %v", got)
	}
}

func TestDriverTopN(t *testing.T) {
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "db"))
	cfg.Dimension = 2
	cfg.BatchingEnabled = false
	e, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	vectors := map[string][]float32{
		"match":     {1, 0},
		"orthogonal": {0, 1},
		"opposite":  {-1, 0},
	}
	for k, v := range vectors {
		if err := e.WriteRecord(k, v); err != nil {
			t.Fatalf("write %s: %v", k, err)
		}
	}

	driver := New(e, nil)
	hits, err := driver.TopN([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("topn: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Key != "match" {
		t.Fatalf("expected best match first, got %+v", hits)
	}
}

func TestDriverTopNDimensionMismatch(t *testing.T) {
	cfg := engine.DefaultConfig(filepath.Join(t.TempDir(), "db"))
	cfg.Dimension = 3
	e, err := engine.Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close()

	driver := New(e, nil)
	if _, err := driver.TopN([]float32{1, 2}, 1); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
