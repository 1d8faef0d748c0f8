// Package cluster partitions tickets into themes over their embedding
// vectors, with a metadata fallback for tickets that have no vector.
package cluster

import (
	"math"
	"math/rand"
)

const (
	kmeansRestarts = 10
	kmeansMaxIter  = 100
)

// KMeans partitions vectors into k clusters and returns one cluster index
// per vector. k is clamped to [1, len(vectors)]. Repeated calls with the
// same vectors and seed return the same assignment: centroid seeding draws
// from a fixed rand source and distance ties go to the lowest cluster
// index. The best of kmeansRestarts runs by total squared distance wins.
func KMeans(vectors [][]float32, k int, seed int64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	best := make([]int, n)
	bestInertia := math.Inf(1)
	for run := 0; run < kmeansRestarts; run++ {
		rng := rand.New(rand.NewSource(seed + int64(run)))
		assign, inertia := lloyd(vectors, k, rng)
		if inertia < bestInertia {
			bestInertia = inertia
			copy(best, assign)
		}
	}
	return best
}

func lloyd(vectors [][]float32, k int, rng *rand.Rand) ([]int, float64) {
	centroids := seedCentroids(vectors, k, rng)
	assign := make([]int, len(vectors))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, v := range vectors {
			c := nearest(centroids, v)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if fillEmptyClusters(vectors, centroids, assign) {
			changed = true
		}
		if !changed {
			break
		}
		recomputeCentroids(vectors, centroids, assign)
	}

	inertia := 0.0
	for i, v := range vectors {
		inertia += sqDist(centroids[assign[i]], v)
	}
	return assign, inertia
}

// seedCentroids picks k initial centroids k-means++ style: the first
// uniformly, each next weighted by squared distance to the closest
// already-chosen centroid.
func seedCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, toFloat64(vectors[rng.Intn(n)]))

	dist := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		last := centroids[len(centroids)-1]
		for i, v := range vectors {
			d := sqDist(last, v)
			if len(centroids) == 1 || d < dist[i] {
				dist[i] = d
			}
			total += dist[i]
		}
		next := n - 1
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, d := range dist {
				acc += d
				if acc >= target {
					next = i
					break
				}
			}
		} else {
			// All remaining points coincide with a centroid.
			next = rng.Intn(n)
		}
		centroids = append(centroids, toFloat64(vectors[next]))
	}
	return centroids
}

// fillEmptyClusters hands each memberless cluster the point currently
// farthest from its own centroid, so every run keeps exactly k clusters.
func fillEmptyClusters(vectors [][]float32, centroids [][]float64, assign []int) bool {
	counts := make([]int, len(centroids))
	for _, c := range assign {
		counts[c]++
	}
	moved := false
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, v := range vectors {
			if counts[assign[i]] <= 1 {
				continue
			}
			if d := sqDist(centroids[assign[i]], v); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		counts[assign[far]]--
		assign[far] = c
		counts[c]++
		moved = true
	}
	return moved
}

func recomputeCentroids(vectors [][]float32, centroids [][]float64, assign []int) {
	counts := make([]int, len(centroids))
	for c := range centroids {
		for d := range centroids[c] {
			centroids[c][d] = 0
		}
	}
	for i, v := range vectors {
		c := assign[i]
		counts[c]++
		for d, x := range v {
			centroids[c][d] += float64(x)
		}
	}
	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for d := range centroids[c] {
			centroids[c][d] /= float64(counts[c])
		}
	}
}

// nearest returns the index of the closest centroid, lowest index on ties.
func nearest(centroids [][]float64, v []float32) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(centroid, v); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func sqDist(centroid []float64, v []float32) float64 {
	sum := 0.0
	for d, x := range v {
		diff := centroid[d] - float64(x)
		sum += diff * diff
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
