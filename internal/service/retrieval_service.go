// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
	"research-rag-go/pkg/embedding"
	"research-rag-go/pkg/log"
)

// Strategy 是检索策略。
type Strategy string

const (
	// StrategySimilarity 返回 top-K 最近邻。
	StrategySimilarity Strategy = "similarity"
	// StrategyDiversity 在 fetchK 个候选上做最大边际相关性选择。
	StrategyDiversity Strategy = "diversity"
)

// RetrieveParams 是一次检索的策略与参数。
type RetrieveParams struct {
	Strategy Strategy
	TopK     int
	FetchK   int
	Lambda   float64
}

// Validate 校验策略与参数范围。
func (p RetrieveParams) Validate() error {
	switch p.Strategy {
	case StrategySimilarity, StrategyDiversity:
	default:
		return fmt.Errorf("%w: unknown strategy %q", model.ErrInvalidStrategy, p.Strategy)
	}
	if p.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive", model.ErrInvalidStrategy)
	}
	if p.Strategy == StrategyDiversity {
		if p.FetchK < p.TopK {
			return fmt.Errorf("%w: fetchK must be >= topK", model.ErrInvalidStrategy)
		}
		if p.Lambda < 0 || p.Lambda > 1 {
			return fmt.Errorf("%w: lambda must be within [0,1]", model.ErrInvalidStrategy)
		}
	}
	return nil
}

// VectorSearcher 是向量索引的读取端。
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]model.ScoredRecord, error)
}

// RetrievalService 接口定义了检索操作。
type RetrievalService interface {
	Retrieve(ctx context.Context, query string, params RetrieveParams) ([]model.RetrievedResult, error)
	Defaults() RetrieveParams
}

type retrievalService struct {
	embedder embedding.Client
	searcher VectorSearcher
	defaults RetrieveParams
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embedder embedding.Client, searcher VectorSearcher, cfg config.RetrievalConfig) RetrievalService {
	return &retrievalService{
		embedder: embedder,
		searcher: searcher,
		defaults: RetrieveParams{
			Strategy: Strategy(cfg.Strategy),
			TopK:     cfg.TopK,
			FetchK:   cfg.FetchK,
			Lambda:   cfg.Lambda,
		},
	}
}

// Defaults 返回配置中的默认检索参数。
func (s *retrievalService) Defaults() RetrieveParams {
	return s.defaults
}

// Retrieve 向量化查询并按策略检索，结果按相关性（或 MMR 选择顺序）排列。
// 参数非法时返回校验错误；向量化或索引失败时返回 RetrievalError。
func (s *retrievalService) Retrieve(ctx context.Context, query string, params RetrieveParams) ([]model.RetrievedResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, model.ErrEmptyQuery
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	log.Infof("[RetrievalService] 开始检索, query: '%s', strategy: %s, topK: %d, fetchK: %d, lambda: %.2f",
		query, params.Strategy, params.TopK, params.FetchK, params.Lambda)

	queryVector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败, query: '%s', error: %v", query, err)
		return nil, &model.RetrievalError{Query: query, Op: "embed", Err: err}
	}

	k := params.TopK
	if params.Strategy == StrategyDiversity {
		k = params.FetchK
	}
	candidates, err := s.searcher.Search(ctx, queryVector, k)
	if err != nil {
		log.Errorf("[RetrievalService] 索引检索失败, query: '%s', error: %v", query, err)
		return nil, &model.RetrievalError{Query: query, Op: "search", Err: err}
	}

	var picked []model.ScoredRecord
	switch params.Strategy {
	case StrategyDiversity:
		for _, i := range mmrSelect(candidates, params.TopK, params.Lambda) {
			picked = append(picked, candidates[i])
		}
	default:
		picked = append([]model.ScoredRecord(nil), candidates...)
		sort.SliceStable(picked, func(i, j int) bool { return picked[i].Score > picked[j].Score })
		if len(picked) > params.TopK {
			picked = picked[:params.TopK]
		}
	}

	results := make([]model.RetrievedResult, 0, len(picked))
	for _, c := range picked {
		results = append(results, model.RetrievedResult{
			Text:       c.Record.Text,
			Source:     c.Record.Source,
			Page:       c.Record.Page,
			ChunkIndex: c.Record.ChunkIndex,
			Score:      c.Score,
		})
	}
	log.Infof("[RetrievalService] 检索完成, query: '%s', candidates: %d, results: %d", query, len(candidates), len(results))
	return results, nil
}
