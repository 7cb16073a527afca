package strata

import (
	"math"
	"sort"
)

// nearestNeighbors performs brute-force cosine-similarity top-k search over
// a vector index's current (as-of-bound) vectors (§7 supplemented feature:
// the core's minimal nearest-neighbor structure; ranking beyond this is the
// excluded HNSW-like search module's job).
func (rc *rawCollection) nearestNeighbors(indexName string, query []float64, k int, bound uint64) []rawResult {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	idx, ok := rc.vectorIdx[indexName]
	if !ok || k <= 0 {
		return nil
	}

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for idStr, versions := range idx {
		var vec []float64
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Seq < bound {
				vec = versions[i].Vec
				break
			}
		}
		if vec == nil {
			continue
		}
		candidates = append(candidates, scored{id: idStr, score: cosineSimilarity(query, vec)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]rawResult, 0, len(candidates))
	for _, c := range candidates {
		if v, ok := rc.latestHistoryLocked(c.id, bound); ok {
			out = append(out, rawResult{ID: []byte(c.id), Value: v})
		}
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
