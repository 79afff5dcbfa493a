package index

import (
	"bytes"
	"encoding/gob"
	"sync"

	"memvec/internal/mathutil"
)

// IVFConfig configures the approximate index.
type IVFConfig struct {
	NList          int // number of clusters (default 100)
	NProbe         int // clusters scanned per query (default 8)
	TrainThreshold int // vectors required before clustering (default 1000)
	KMeansIters    int // training iterations (default 10)
}

func (c IVFConfig) withDefaults() IVFConfig {
	if c.NList <= 0 {
		c.NList = 100
	}
	if c.NProbe <= 0 {
		c.NProbe = 8
	}
	if c.TrainThreshold <= 0 {
		c.TrainThreshold = 1000
	}
	if c.KMeansIters <= 0 {
		c.KMeansIters = 10
	}
	return c
}

// IVF is an approximate inner-product index. Vectors are partitioned into
// clusters and queries only scan the closest NProbe clusters.
//
// Below TrainThreshold vectors the index answers with an exact scan and
// reports Trained() == false; once the threshold is crossed it trains
// k-means on the real vectors accumulated so far and switches to cluster
// probing. It never trains on synthetic samples.
type IVF struct {
	dim       int
	cfg       IVFConfig
	data      []float32 // all vectors, row-major; also the training corpus
	centroids []float32 // cfg.NList rows once trained
	lists     [][]int32 // positions per centroid
	trained   bool
	mu        sync.RWMutex
}

// NewIVF creates an approximate index for vectors of the given dimension.
func NewIVF(dim int, cfg IVFConfig) *IVF {
	return &IVF{dim: dim, cfg: cfg.withDefaults()}
}

// Insert appends a vector and returns its position. Crossing the training
// threshold triggers the one-time clustering pass.
func (v *IVF) Insert(vector []float32) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dim == 0 || len(vector) != v.dim {
		return 0, ErrDimensionMismatch
	}
	pos := len(v.data) / v.dim
	v.data = append(v.data, vector...)

	if v.trained {
		c := v.nearestCentroid(vector)
		v.lists[c] = append(v.lists[c], int32(pos))
	} else if pos+1 >= v.cfg.TrainThreshold {
		v.train()
	}
	return pos, nil
}

// Search returns up to k nearest neighbors by inner product, descending.
// Untrained indexes fall back to an exact scan.
func (v *IVF) Search(query []float32, k int) ([]Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dim {
		return nil, ErrDimensionMismatch
	}
	if !v.trained {
		return bruteForce(v.data, v.dim, query, k), nil
	}
	if k <= 0 || len(v.data) == 0 {
		return nil, nil
	}

	// Rank centroids by similarity to the query, scan the best NProbe lists.
	probes := v.rankCentroids(query)
	if len(probes) > v.cfg.NProbe {
		probes = probes[:v.cfg.NProbe]
	}

	var results []Result
	for _, c := range probes {
		for _, pos := range v.lists[c] {
			row := v.data[int(pos)*v.dim : (int(pos)+1)*v.dim]
			results = append(results, Result{
				Position: int(pos),
				Score:    mathutil.DotProduct(query, row),
			})
		}
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Reconstruct returns a copy of the vector at position.
func (v *IVF) Reconstruct(position int) ([]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.dim == 0 || position < 0 || position >= len(v.data)/v.dim {
		return nil, ErrInvalidPosition
	}
	out := make([]float32, v.dim)
	copy(out, v.data[position*v.dim:(position+1)*v.dim])
	return out, nil
}

// Count returns the number of stored vectors.
func (v *IVF) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dim == 0 {
		return 0
	}
	return len(v.data) / v.dim
}

// Dimension returns the configured vector dimension.
func (v *IVF) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dim
}

// Trained reports whether the clustering pass has run.
func (v *IVF) Trained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trained
}

// Kind identifies the index implementation.
func (v *IVF) Kind() string { return KindIVF }

// Reset discards all vectors and training state.
func (v *IVF) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = nil
	v.centroids = nil
	v.lists = nil
	v.trained = false
}

// train runs k-means over all accumulated vectors and builds the inverted
// lists. Caller holds the write lock.
func (v *IVF) train() {
	n := len(v.data) / v.dim
	nlist := v.cfg.NList
	if nlist > n {
		nlist = n
	}
	if nlist == 0 {
		return
	}

	// Seed centroids with evenly spaced rows so training is deterministic
	// for a given insertion order.
	centroids := make([]float32, nlist*v.dim)
	for c := 0; c < nlist; c++ {
		row := c * n / nlist
		copy(centroids[c*v.dim:(c+1)*v.dim], v.data[row*v.dim:(row+1)*v.dim])
	}

	assign := make([]int, n)
	for iter := 0; iter < v.cfg.KMeansIters; iter++ {
		for i := 0; i < n; i++ {
			assign[i] = nearestRow(centroids, nlist, v.dim, v.data[i*v.dim:(i+1)*v.dim])
		}

		// Recompute centroids as member means; empty clusters keep their seed.
		sums := make([]float32, nlist*v.dim)
		counts := make([]int, nlist)
		for i := 0; i < n; i++ {
			c := assign[i]
			counts[c]++
			row := v.data[i*v.dim : (i+1)*v.dim]
			for j := 0; j < v.dim; j++ {
				sums[c*v.dim+j] += row[j]
			}
		}
		for c := 0; c < nlist; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < v.dim; j++ {
				centroids[c*v.dim+j] = sums[c*v.dim+j] / float32(counts[c])
			}
		}
	}

	lists := make([][]int32, nlist)
	for i := 0; i < n; i++ {
		c := nearestRow(centroids, nlist, v.dim, v.data[i*v.dim:(i+1)*v.dim])
		lists[c] = append(lists[c], int32(i))
	}

	v.centroids = centroids
	v.lists = lists
	v.trained = true
}

func (v *IVF) nearestCentroid(vec []float32) int {
	return nearestRow(v.centroids, len(v.lists), v.dim, vec)
}

// nearestRow returns the row of rows closest to vec by squared Euclidean
// distance.
func nearestRow(rows []float32, n, dim int, vec []float32) int {
	best := 0
	bestDist := mathutil.SquaredDistance(vec, rows[:dim])
	for c := 1; c < n; c++ {
		d := mathutil.SquaredDistance(vec, rows[c*dim:(c+1)*dim])
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

// rankCentroids returns centroid indices ordered by inner product with the
// query, descending.
func (v *IVF) rankCentroids(query []float32) []int {
	ranked := make([]Result, len(v.lists))
	for c := range v.lists {
		ranked[c] = Result{
			Position: c,
			Score:    mathutil.DotProduct(query, v.centroids[c*v.dim:(c+1)*v.dim]),
		}
	}
	sortResults(ranked)
	out := make([]int, len(ranked))
	for i, r := range ranked {
		out[i] = r.Position
	}
	return out
}

// ivfData is the serializable representation of an IVF index.
type ivfData struct {
	Dim       int
	Cfg       IVFConfig
	Data      []float32
	Centroids []float32
	Lists     [][]int32
	Trained   bool
}

// Marshal serializes the index.
func (v *IVF) Marshal() ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	d := ivfData{
		Dim:       v.dim,
		Cfg:       v.cfg,
		Data:      v.data,
		Centroids: v.centroids,
		Lists:     v.lists,
		Trained:   v.trained,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes the index.
func (v *IVF) Unmarshal(data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var d ivfData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return err
	}
	v.dim = d.Dim
	v.cfg = d.Cfg.withDefaults()
	v.data = d.Data
	v.centroids = d.Centroids
	v.lists = d.Lists
	v.trained = d.Trained
	return nil
}
