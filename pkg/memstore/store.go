// Package memstore 提供基于 chromem-go 的进程内向量索引，用于本地运行与测试。
package memstore

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"

	"research-rag-go/internal/model"
)

// VectorStore 把分块记录保存在内存集合中。
type VectorStore struct {
	collection *chromem.Collection
}

// NewVectorStore 创建（或复用）名为 name 的内存集合。
func NewVectorStore(name string) (*VectorStore, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return &VectorStore{collection: c}, nil
}

// Upsert 以 ContentKey 作为文档 ID 写入，同 ID 覆盖。
func (s *VectorStore) Upsert(ctx context.Context, records []model.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, chromem.Document{
			ID:        rec.ContentKey,
			Content:   rec.Text,
			Embedding: rec.Vector,
			Metadata: map[string]string{
				"source":        rec.Source,
				"file_md5":      rec.FileMD5,
				"page":          strconv.Itoa(rec.Page),
				"chunk_index":   strconv.Itoa(rec.ChunkIndex),
				"model_version": rec.ModelVersion,
				"ingested_at":   rec.IngestedAt.UTC().Format(time.RFC3339),
			},
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search 返回与 vector 余弦相似度最高的 k 条记录，按相似度降序。
func (s *VectorStore) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredRecord, error) {
	n := s.collection.Count()
	if k > n {
		k = n
	}
	if k <= 0 {
		return []model.ScoredRecord{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]model.ScoredRecord, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata["page"])
		chunkIndex, _ := strconv.Atoi(r.Metadata["chunk_index"])
		ingestedAt, _ := time.Parse(time.RFC3339, r.Metadata["ingested_at"])
		out = append(out, model.ScoredRecord{
			Record: model.IndexRecord{
				ContentKey:   r.ID,
				Text:         r.Content,
				Vector:       r.Embedding,
				Source:       r.Metadata["source"],
				FileMD5:      r.Metadata["file_md5"],
				Page:         page,
				ChunkIndex:   chunkIndex,
				ModelVersion: r.Metadata["model_version"],
				IngestedAt:   ingestedAt,
			},
			Score: float64(r.Similarity),
		})
	}
	return out, nil
}

// Count 返回集合中的记录数。
func (s *VectorStore) Count() int {
	return s.collection.Count()
}
