// Package es 提供了基于 Elasticsearch 的向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
	"research-rag-go/pkg/log"
)

// maxCandidates 是 Elasticsearch kNN 的 num_candidates 上限
const maxCandidates = 10000

// NewClient 初始化 Elasticsearch 客户端
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: esCfg.AddressList(),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	}
	if esCfg.Insecure {
		cfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return elasticsearch.NewClient(cfg)
}

// VectorStore 把分块记录写入 "database.collection" 物理索引，并通过别名执行 kNN 检索。
type VectorStore struct {
	client      *elasticsearch.Client
	index       string
	alias       string
	textField   string
	vectorField string
	dims        int
	timeout     time.Duration
}

// NewVectorStore 创建向量索引访问对象，dims 为向量维度。
func NewVectorStore(client *elasticsearch.Client, idxCfg config.IndexConfig, dims int) *VectorStore {
	return &VectorStore{
		client:      client,
		index:       idxCfg.Namespace(),
		alias:       idxCfg.IndexName,
		textField:   idxCfg.TextField,
		vectorField: idxCfg.VectorField,
		dims:        dims,
		timeout:     idxCfg.Timeout,
	}
}

func (s *VectorStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// EnsureIndex 检查索引是否存在，如果不存在则连同别名一起创建
func (s *VectorStore) EnsureIndex(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[VectorStore] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 200 说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[VectorStore] 索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := map[string]any{
		"aliases": map[string]any{s.alias: map[string]any{}},
		"mappings": map[string]any{
			"properties": map[string]any{
				s.textField: map[string]any{"type": "text"},
				s.vectorField: map[string]any{
					"type":       "dense_vector",
					"dims":       s.dims,
					"index":      true,
					"similarity": "cosine",
				},
				"content_key":   map[string]any{"type": "keyword"},
				"source":        map[string]any{"type": "keyword"},
				"file_md5":      map[string]any{"type": "keyword"},
				"page":          map[string]any{"type": "integer"},
				"chunk_index":   map[string]any{"type": "integer"},
				"model_version": map[string]any{"type": "keyword"},
				"ingested_at":   map[string]any{"type": "date"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		log.Errorf("[VectorStore] 创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorStore] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[VectorStore] 索引 '%s' 创建成功, 别名: %s, 维度: %d", s.index, s.alias, s.dims)
	return nil
}

// Upsert 以 ContentKey 作为文档 ID 批量写入，已存在的记录被覆盖。
func (s *VectorStore) Upsert(ctx context.Context, records []model.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		meta := map[string]any{"index": map[string]any{"_index": s.index, "_id": rec.ContentKey}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := enc.Encode(s.toSource(rec)); err != nil {
			return fmt.Errorf("failed to encode bulk document: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Index:   s.index,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorStore] Bulk 写入出错, status: %s, body: %s", res.Status(), string(bodyBytes))
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return fmt.Errorf("elasticsearch bulk item failed: %s: %s", r.Error.Type, r.Error.Reason)
				}
			}
		}
		return errors.New("elasticsearch bulk reported errors")
	}
	log.Debugf("[VectorStore] 成功写入 %d 条记录到索引 %s", len(records), s.index)
	return nil
}

// Search 返回与 vector 余弦相似度最高的 k 条记录，按相似度降序，结果携带向量。
func (s *VectorStore) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredRecord, error) {
	if k <= 0 {
		return []model.ScoredRecord{}, nil
	}
	if k > maxCandidates {
		k = maxCandidates
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	numCandidates := k * 2
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > maxCandidates {
		numCandidates = maxCandidates
	}

	var buf bytes.Buffer
	query := map[string]any{
		"knn": map[string]any{
			"field":          s.vectorField,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size": k,
	}
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.alias),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				ID     string                     `json:"_id"`
				Source map[string]json.RawMessage `json:"_source"`
				Score  float64                    `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.ScoredRecord, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		rec, err := s.fromSource(hit.Source)
		if err != nil {
			log.Warnf("[VectorStore] 跳过无法解析的命中 %s: %v", hit.ID, err)
			continue
		}
		if rec.ContentKey == "" {
			rec.ContentKey = hit.ID
		}
		// cosine 相似度在 ES 中的得分为 (1 + cos) / 2
		out = append(out, model.ScoredRecord{Record: rec, Score: 2*hit.Score - 1})
	}
	return out, nil
}

func (s *VectorStore) toSource(rec model.IndexRecord) map[string]any {
	return map[string]any{
		s.textField:     rec.Text,
		s.vectorField:   rec.Vector,
		"content_key":   rec.ContentKey,
		"source":        rec.Source,
		"file_md5":      rec.FileMD5,
		"page":          rec.Page,
		"chunk_index":   rec.ChunkIndex,
		"model_version": rec.ModelVersion,
		"ingested_at":   rec.IngestedAt.UTC().Format(time.RFC3339),
	}
}

func (s *VectorStore) fromSource(src map[string]json.RawMessage) (model.IndexRecord, error) {
	var rec model.IndexRecord
	fields := []struct {
		key string
		dst any
	}{
		{s.textField, &rec.Text},
		{s.vectorField, &rec.Vector},
		{"content_key", &rec.ContentKey},
		{"source", &rec.Source},
		{"file_md5", &rec.FileMD5},
		{"page", &rec.Page},
		{"chunk_index", &rec.ChunkIndex},
		{"model_version", &rec.ModelVersion},
	}
	for _, f := range fields {
		raw, ok := src[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return rec, fmt.Errorf("field %s: %w", f.key, err)
		}
	}
	if raw, ok := src["ingested_at"]; ok {
		var ts string
		if json.Unmarshal(raw, &ts) == nil {
			rec.IngestedAt, _ = time.Parse(time.RFC3339, ts)
		}
	}
	if strings.TrimSpace(rec.Text) == "" {
		return rec, errors.New("missing text")
	}
	return rec, nil
}
