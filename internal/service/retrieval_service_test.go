package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s stubEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

type stubSearcher struct {
	hits  []model.ScoredRecord
	err   error
	lastK int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, k int) ([]model.ScoredRecord, error) {
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.hits) {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func hit(text string, score float64, vector ...float32) model.ScoredRecord {
	return model.ScoredRecord{Record: model.IndexRecord{Text: text, Vector: vector, Source: text + ".pdf"}, Score: score}
}

// 查询向量为 [1,0]，a 与 a2 几乎相同，b 方向不同
func nearDuplicateHits() []model.ScoredRecord {
	return []model.ScoredRecord{
		hit("a", 1.0, 1, 0),
		hit("a2", 0.99, 0.99, 0.14),
		hit("b", 0.6, 0.6, 0.8),
		hit("c", 0.1, 0.1, -0.99),
	}
}

func texts(results []model.RetrievedResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Text)
	}
	return out
}

func newRetriever(s *stubSearcher) RetrievalService {
	return NewRetrievalService(stubEmbedder{vector: []float32{1, 0}}, s,
		config.RetrievalConfig{Strategy: "diversity", TopK: 4, FetchK: 50, Lambda: 0.1})
}

func TestRetrieve_SimilarityIsOrderedByScore(t *testing.T) {
	s := &stubSearcher{hits: []model.ScoredRecord{hit("low", 0.2), hit("high", 0.9), hit("mid", 0.5)}}

	results, err := newRetriever(s).Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategySimilarity, TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, s.lastK)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "high", results[0].Text)
}

func TestRetrieve_DiversityWithLambdaOneMatchesSimilarity(t *testing.T) {
	s := &stubSearcher{hits: nearDuplicateHits()}
	r := newRetriever(s)

	sim, err := r.Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategySimilarity, TopK: 3})
	require.NoError(t, err)
	div, err := r.Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategyDiversity, TopK: 3, FetchK: 4, Lambda: 1})
	require.NoError(t, err)

	assert.Equal(t, texts(sim), texts(div))
	assert.Equal(t, 4, s.lastK)
}

func TestRetrieve_DiversityWithLambdaZeroAvoidsNearDuplicates(t *testing.T) {
	s := &stubSearcher{hits: nearDuplicateHits()}

	results, err := newRetriever(s).Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategyDiversity, TopK: 2, FetchK: 4, Lambda: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, texts(results))
}

func TestRetrieve_DefaultLambdaPrefersDiverseSecondPick(t *testing.T) {
	s := &stubSearcher{hits: nearDuplicateHits()}

	results, err := newRetriever(s).Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategyDiversity, TopK: 2, FetchK: 4, Lambda: 0.5})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(results))
}

func TestRetrieve_FewerCandidatesThanTopK(t *testing.T) {
	s := &stubSearcher{hits: []model.ScoredRecord{hit("only", 0.7, 1, 0)}}

	results, err := newRetriever(s).Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategyDiversity, TopK: 4, FetchK: 50, Lambda: 0.1})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, texts(results))
}

func TestRetrieve_Failures(t *testing.T) {
	tests := []struct {
		name     string
		embedder stubEmbedder
		searcher *stubSearcher
		op       string
	}{
		{name: "embedder down", embedder: stubEmbedder{err: errors.New("401")}, searcher: &stubSearcher{}, op: "embed"},
		{name: "index down", embedder: stubEmbedder{vector: []float32{1}}, searcher: &stubSearcher{err: errors.New("timeout")}, op: "search"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRetrievalService(tc.embedder, tc.searcher, config.RetrievalConfig{})
			_, err := r.Retrieve(context.Background(), "q", RetrieveParams{Strategy: StrategySimilarity, TopK: 1})

			var retrievalErr *model.RetrievalError
			require.ErrorAs(t, err, &retrievalErr)
			assert.Equal(t, tc.op, retrievalErr.Op)
			assert.Equal(t, "q", retrievalErr.Query)
		})
	}
}

func TestRetrieve_InvalidInput(t *testing.T) {
	r := newRetriever(&stubSearcher{})

	_, err := r.Retrieve(context.Background(), "  ", r.Defaults())
	assert.ErrorIs(t, err, model.ErrEmptyQuery)

	invalid := []RetrieveParams{
		{Strategy: "random", TopK: 1},
		{Strategy: StrategySimilarity, TopK: 0},
		{Strategy: StrategyDiversity, TopK: 5, FetchK: 4, Lambda: 0.5},
		{Strategy: StrategyDiversity, TopK: 1, FetchK: 4, Lambda: 1.5},
	}
	for _, p := range invalid {
		_, err := r.Retrieve(context.Background(), "q", p)
		assert.ErrorIs(t, err, model.ErrInvalidStrategy, "%+v", p)
	}
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 0}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 0}))
}
