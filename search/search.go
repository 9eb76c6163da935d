// Package search implements a brute-force, cosine-similarity nearest-
// neighbor driver over a raptor engine's read interface. It holds no
// persistence of its own and is not part of the engine's crash-
// consistency contract; it exists to exercise locations(),
// read_embedding_at, count(), and get_dimension() end to end, and to
// give the top-N accumulator (package topn) a concrete caller.
package search

import (
	"fmt"
	"math"

	"github.com/Felmond13/raptor/index"
	"github.com/Felmond13/raptor/topn"
)

// SimilarityFunc scores two equal-length vectors; higher means more
// similar.
type SimilarityFunc func(a, b []float32) float32

// Hit is one scored result.
type Hit struct {
	Key   string
	Score float32
}

// Source is the narrow read interface a Driver needs from an engine.
// *engine.Engine satisfies it; it is declared here, not imported from
// package engine, so search has no dependency on the engine's write
// path — only on the index's location type, which both packages already
// share.
type Source interface {
	Locations() map[string]index.RecordLocation
	ReadEmbeddingAt(offset uint64) ([]float32, bool)
	Count() int
	GetDimension() int
}

// Driver runs brute-force top-N similarity search over a Source.
type Driver struct {
	source     Source
	similarity SimilarityFunc
}

// New returns a Driver over source using sim. A nil sim defaults to
// Cosine.
func New(source Source, sim SimilarityFunc) *Driver {
	if sim == nil {
		sim = Cosine
	}
	return &Driver{source: source, similarity: sim}
}

// TopN scores every stored embedding against query and returns the n
// highest-scoring hits, highest first.
func (d *Driver) TopN(query []float32, n int) ([]Hit, error) {
	if len(query) != d.source.GetDimension() {
		return nil, fmt.Errorf("search: query dimension %d != database dimension %d", len(query), d.source.GetDimension())
	}
	if n <= 0 {
		return nil, nil
	}

	set := topn.New(n)
	for key, loc := range d.source.Locations() {
		embedding, ok := d.source.ReadEmbeddingAt(loc.Offset)
		if !ok {
			continue // corrupt or orphaned location; skip rather than fail the whole search
		}
		set.Add(key, d.similarity(query, embedding))
	}

	entries := set.Entries()
	hits := make([]Hit, len(entries))
	for i, e := range entries {
		hits[i] = Hit{Key: e.Key, Score: e.Score}
	}
	return hits, nil
}

// Cosine computes cosine similarity between two equal-length vectors.
// It returns 0 if either vector has zero magnitude.
func Cosine(a, b []float32) float32 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}
