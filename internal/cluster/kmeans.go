package cluster

import (
	"math"
	"math/rand"
)

// Config bounds the partition so clusters stay interpretable: never one
// giant cluster, never all singletons.
type Config struct {
	MinClusters int
	MaxClusters int
	Seed        int64
	MaxIter     int
}

// DefaultConfig matches production policy: 2 to 8 clusters, fixed seed.
func DefaultConfig() Config {
	return Config{
		MinClusters: 2,
		MaxClusters: 8,
		Seed:        42,
		MaxIter:     100,
	}
}

// ClusterCount derives k from input size: n/3 clamped to the configured
// bounds, and never more than n. Fewer than 3 posts collapse to one cluster.
func ClusterCount(n int, cfg Config) int {
	if n < 3 {
		return 1
	}
	k := n / 3
	if k < cfg.MinClusters {
		k = cfg.MinClusters
	}
	if k > cfg.MaxClusters {
		k = cfg.MaxClusters
	}
	if k > n {
		k = n
	}
	return k
}

// Partition groups vectors into disjoint index sets with seeded k-means.
// Identical inputs, config, and seed always produce the identical partition;
// ties break toward the lowest centroid index. Empty clusters are dropped,
// so the result may hold fewer than k groups.
func Partition(vectors [][]float32, cfg Config) [][]int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	k := ClusterCount(n, cfg)
	if k <= 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}

	dim := len(vectors[0])
	rng := rand.New(rand.NewSource(cfg.Seed))

	// Seeded init: k distinct vectors as starting centroids.
	perm := rng.Perm(n)
	centroids := make([][]float64, k)
	for i := 0; i < k; i++ {
		centroids[i] = toFloat64(vectors[perm[i]])
	}

	assignments := make([]int, n)
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if iter == 0 || best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		// Recompute centroids as member means; empty centroids keep their
		// previous position.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim && d < len(v); d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	groups := make([][]int, k)
	for i, c := range assignments {
		groups[c] = append(groups[c], i)
	}
	result := make([][]int, 0, k)
	for _, g := range groups {
		if len(g) > 0 {
			result = append(result, g)
		}
	}
	return result
}

func nearestCentroid(v []float32, centroids [][]float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for c, centroid := range centroids {
		dist := 0.0
		for d := 0; d < len(centroid) && d < len(v); d++ {
			diff := float64(v[d]) - centroid[d]
			dist += diff * diff
		}
		if dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
