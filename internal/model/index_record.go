package model

import "time"

// IndexRecord 是写入向量索引的一条记录。
// ContentKey 由文件内容哈希与分块位置派生，作为索引文档 ID，重复入库时覆盖而非新增。
type IndexRecord struct {
	ContentKey   string    `json:"content_key"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"embeddings"`
	Source       string    `json:"source"`
	FileMD5      string    `json:"file_md5"`
	Page         int       `json:"page"`
	ChunkIndex   int       `json:"chunk_index"`
	ModelVersion string    `json:"model_version"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// ScoredRecord 是向量索引返回的一条候选记录。
// Score 为与查询向量的余弦相似度。
type ScoredRecord struct {
	Record IndexRecord
	Score  float64
}

// RetrievedResult 是一次查询中检索器返回的结果，按相关性（或 MMR 选择顺序）排列。
type RetrievedResult struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}
