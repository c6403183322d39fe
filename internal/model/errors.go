package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery 表示问题文本为空。
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrInvalidChunkParams 表示分块参数不满足 0 <= overlap < size。
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
	// ErrNoText 表示文档中没有可提取的文本。
	ErrNoText = errors.New("no extractable text")
	// ErrInvalidStrategy 表示未知的检索策略或参数越界。
	ErrInvalidStrategy = errors.New("invalid retrieval strategy")
)

// IngestionError 表示入库失败。File 为空时是目录级失败，否则只影响单个文件。
type IngestionError struct {
	File string
	Op   string
	Err  error
}

func (e *IngestionError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("ingestion %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ingestion of %s failed at %s: %v", e.File, e.Op, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// RetrievalError 表示查询向量化或索引检索失败。
type RetrievalError struct {
	Query string
	Op    string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s failed for %q: %v", e.Op, e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SynthesisError 表示生成模型调用失败，对请求而言是终止性的。
type SynthesisError struct {
	Query string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("answer synthesis failed for %q: %v", e.Query, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
