package service

import (
	"math"

	"research-rag-go/internal/model"
)

// mmrSelect 按最大边际相关性从候选中选出至多 k 个，返回候选下标（按选择顺序）。
// 每轮选择 lambda*relevance - (1-lambda)*max(sim(候选, 已选))，相关性取索引返回的得分；
// 得分相同时保留较早的候选。
func mmrSelect(candidates []model.ScoredRecord, k int, lambda float64) []int {
	if k > len(candidates) {
		k = len(candidates)
	}
	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			penalty := 0.0
			if len(selected) > 0 {
				penalty = maxSim[i]
			}
			score := lambda*c.Score - (1-lambda)*penalty
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, best)

		picked := candidates[best].Record.Vector
		for i, c := range candidates {
			if used[i] {
				continue
			}
			if sim := cosine(c.Record.Vector, picked); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}

// cosine 返回两个向量的余弦相似度，长度不一致或零向量时为 0。
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
