package segmentation

import (
	"fmt"
	"math"
	"math/rand"
)

// KMeans partitions points into k clusters with Lloyd's algorithm, returning
// one label per point and the final centroid coordinates. Centroids are
// seeded with k-means++ from the given seed, so identical input and seed
// produce identical labels. Iteration stops when assignments are stable or
// after maxIter passes.
func KMeans(points [][]float64, k int, seed int64, maxIter int) ([]int, [][]float64, error) {
	if k < 1 {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidClusterCount, k)
	}
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("kmeans: no points")
	}
	if k > len(points) {
		return nil, nil, fmt.Errorf("%w: %d clusters requested for %d rows", ErrInvalidClusterCount, k, len(points))
	}
	if maxIter < 1 {
		maxIter = 300
	}

	dims := len(points[0])
	for i, p := range points {
		if len(p) != dims {
			return nil, nil, fmt.Errorf("kmeans: point %d has %d dims, expected %d", i, len(p), dims)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := seedCentroids(points, k, rng)
	labels := make([]int, len(points))

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best := nearestCentroid(p, centroids)
			if best != labels[i] || iter == 0 {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		// Recompute centroids as cluster means.
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			c := labels[i]
			counts[c]++
			for j, v := range p {
				sums[c][j] += v
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Reseed an empty cluster to the point farthest from its
				// current centroid so every cluster stays populated.
				centroids[c] = farthestPoint(points, labels, centroids)
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	return labels, centroids, nil
}

// seedCentroids picks initial centroids with k-means++: the first uniformly,
// each subsequent one weighted by squared distance to the nearest chosen
// centroid.
func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, copyPoint(first))

	dists := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			d := squaredDistance(p, centroids[nearestCentroid(p, centroids)])
			dists[i] = d
			total += d
		}

		if total == 0 {
			// All remaining points coincide with a centroid; pick uniformly.
			centroids = append(centroids, copyPoint(points[rng.Intn(len(points))]))
			continue
		}

		target := rng.Float64() * total
		var cum float64
		idx := len(points) - 1
		for i, d := range dists {
			cum += d
			if cum >= target {
				idx = i
				break
			}
		}
		centroids = append(centroids, copyPoint(points[idx]))
	}
	return centroids
}

func nearestCentroid(p []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func farthestPoint(points [][]float64, labels []int, centroids [][]float64) []float64 {
	bestIdx := 0
	bestDist := -1.0
	for i, p := range points {
		if d := squaredDistance(p, centroids[labels[i]]); d > bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	return copyPoint(points[bestIdx])
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func copyPoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
