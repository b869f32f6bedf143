// Package cluster provides greedy online clustering of embedded texts.
//
// The goal is compression, not exact clustering: pick roughly K representative
// items from a noisy stream before handing them to a summarizer. Single pass,
// order-preserving, deterministic for a fixed input order and fixed vectors.
package cluster

import "math"

// DefaultThreshold is the cosine similarity at which an item joins an
// existing cluster when callers do not override it.
const DefaultThreshold float32 = 0.82

// sampleLimit caps how many member texts a cluster keeps for traceability.
const sampleLimit = 3

// sampleTruncate caps the length of each kept member text.
const sampleTruncate = 140

// Item is one clusterable text.
type Item struct {
	Text string
}

// Cluster is a group of similar items represented by its first member.
// The centroid is the seed vector; it is never re-centered as members join.
type Cluster struct {
	Representative Item
	Size           int
	Samples        []string
}

// Options tunes Greedy.
type Options struct {
	MaxClusters int     // live-cluster cap; 10 if <= 0
	Threshold   float32 // cosine similarity required to join a cluster
}

// Cosine computes cosine similarity between two vectors. Returns 0 when the
// vectors differ in length or either has zero norm, so degenerate embeddings
// never divide by zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Greedy clusters items against a bounded set of live centroids.
//
// Each item joins the most similar existing cluster when the similarity
// reaches opts.Threshold; ties go to the first-seen cluster because the scan
// only updates the best match on strictly greater similarity. Otherwise the
// item seeds a new cluster, or is dropped once MaxClusters is reached.
//
// Complexity is O(len(items) * MaxClusters).
func Greedy(items []Item, vectors [][]float32, opts Options) []Cluster {
	maxClusters := opts.MaxClusters
	if maxClusters <= 0 {
		maxClusters = 10
	}
	if len(items) == 0 || len(vectors) != len(items) {
		// Without usable vectors, fall back to the first K items.
		out := make([]Cluster, 0, maxClusters)
		for _, it := range items {
			if len(out) >= maxClusters {
				break
			}
			out = append(out, newCluster(it))
		}
		return out
	}

	var clusters []Cluster
	var centroids [][]float32

	for i, it := range items {
		v := vectors[i]

		bestIdx := -1
		var bestSim float32 = -1
		for ci, c := range centroids {
			if s := Cosine(v, c); s > bestSim {
				bestSim = s
				bestIdx = ci
			}
		}

		if bestIdx >= 0 && bestSim >= opts.Threshold {
			cl := &clusters[bestIdx]
			cl.Size++
			if len(cl.Samples) < sampleLimit {
				cl.Samples = append(cl.Samples, truncate(it.Text, sampleTruncate))
			}
			continue
		}

		if len(clusters) < maxClusters {
			clusters = append(clusters, newCluster(it))
			centroids = append(centroids, v)
		}
		// Over the cap: drop the item, the K representatives stand.
	}

	return clusters
}

func newCluster(it Item) Cluster {
	return Cluster{
		Representative: it,
		Size:           1,
		Samples:        []string{truncate(it.Text, sampleTruncate)},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut at a rune boundary so multi-byte text is not split mid-character.
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
