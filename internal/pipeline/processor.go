// Package pipeline 定义了文档入库的核心流程。
package pipeline

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
	"research-rag-go/pkg/embedding"
	"research-rag-go/pkg/log"
)

// upsertBatchSize 是单次写入向量索引的最大记录数
const upsertBatchSize = 500

// DocumentLoader 把一个本地文件加载为按页划分的文档。
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*model.Document, error)
}

// VectorWriter 是向量索引的写入端。
type VectorWriter interface {
	Upsert(ctx context.Context, records []model.IndexRecord) error
}

// Ledger 记录已入库的文件，用于跳过未变化的文件。
type Ledger interface {
	FindByMD5(fileMD5 string) (*model.IngestedDocument, error)
	Upsert(doc *model.IngestedDocument) error
}

// Archiver 保存入库成功的原始文件。
type Archiver interface {
	Archive(ctx context.Context, localPath, fileMD5 string) error
}

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	loaders      []DocumentLoader
	embedder     embedding.Client
	index        VectorWriter
	ledger       Ledger
	ledgerSkip   bool
	archiver     Archiver
	chunkSize    int
	chunkOverlap int
	modelVersion string
	now          func() time.Time
}

// Option 配置 Processor 的可选依赖。
type Option func(*Processor)

// WithFallbackLoader 追加一个在前序加载器失败或未提取到文本时使用的加载器。
func WithFallbackLoader(l DocumentLoader) Option {
	return func(p *Processor) { p.loaders = append(p.loaders, l) }
}

// WithLedger 启用入库台账，台账中已有且模型版本一致的文件会被跳过。
func WithLedger(l Ledger) Option {
	return func(p *Processor) { p.ledger, p.ledgerSkip = l, true }
}

// WithoutLedgerSkip 只记录台账，不据此跳过文件。
// 用于索引不持久化的场景：重启后索引为空，台账却仍保留旧记录。
func WithoutLedgerSkip() Option {
	return func(p *Processor) { p.ledgerSkip = false }
}

// WithArchiver 启用原始文件归档。
func WithArchiver(a Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(loader DocumentLoader, embedder embedding.Client, index VectorWriter, cfg config.IngestConfig, modelVersion string, opts ...Option) *Processor {
	p := &Processor{
		loaders:      []DocumentLoader{loader},
		embedder:     embedder,
		index:        index,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		modelVersion: modelVersion,
		now:          time.Now,
	}
	if p.chunkSize == 0 {
		p.chunkSize, p.chunkOverlap = DefaultChunkSize, DefaultChunkOverlap
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestDirectory 依次处理目录下的每个文件：加载、分块、向量化并写入索引。
// 单个文件失败只记录到报告中并跳过；只有目录不可读或请求被取消时返回 IngestionError。
// force 为 true 时忽略台账，重新处理所有文件。
func (p *Processor) IngestDirectory(ctx context.Context, dir string, force bool) (*model.IngestReport, error) {
	log.Infof("[Processor] 开始入库目录: %s, force: %t", dir, force)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Errorf("[Processor] 读取目录失败, dir: %s, error: %v", dir, err)
		return nil, &model.IngestionError{Op: "read directory", Err: err}
	}

	report := &model.IngestReport{Errors: []model.FileError{}}
	// os.ReadDir 已按文件名排序
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warnf("[Processor] 入库被取消, dir: %s, 已处理 %d 个文件", dir, report.Documents)
			return report, &model.IngestionError{Op: "ingest", Err: err}
		}

		path := filepath.Join(dir, entry.Name())
		chunks, skipped, err := p.ingestFile(ctx, path, force)
		switch {
		case err != nil:
			log.Errorw("[Processor] 文件处理失败，已跳过", "dir", dir, "file", entry.Name(), "error", err)
			report.Errors = append(report.Errors, model.FileError{File: entry.Name(), Error: err.Error()})
		case skipped:
			log.Infof("[Processor] 文件未变化，跳过: %s", entry.Name())
			report.Skipped++
		default:
			report.Documents++
			report.Chunks += chunks
		}
	}

	log.Infof("[Processor] 目录入库完成, dir: %s, documents: %d, chunks: %d, skipped: %d, errors: %d",
		dir, report.Documents, report.Chunks, report.Skipped, len(report.Errors))
	return report, nil
}

// ingestFile 处理单个文件，返回写入的分块数以及是否因未变化而跳过。
func (p *Processor) ingestFile(ctx context.Context, path string, force bool) (int, bool, error) {
	name := filepath.Base(path)
	fail := func(op string, err error) (int, bool, error) {
		return 0, false, &model.IngestionError{File: name, Op: op, Err: err}
	}

	fileMD5, err := fileHash(path)
	if err != nil {
		return fail("read", err)
	}

	if p.ledger != nil && p.ledgerSkip && !force {
		existing, err := p.ledger.FindByMD5(fileMD5)
		if err != nil {
			log.Warnf("[Processor] 查询入库台账失败, file: %s, error: %v", name, err)
		} else if existing != nil && existing.Model == p.modelVersion {
			return 0, true, nil
		}
	}

	// 1. 加载
	doc, err := p.load(ctx, path)
	if err != nil {
		return fail("load", err)
	}
	doc.FileMD5 = fileMD5
	log.Infof("[Processor] 步骤1: 文件加载成功, file: %s, pages: %d", name, len(doc.Pages))

	// 2. 分块
	chunks, err := Split(*doc, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return fail("chunk", err)
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, file: %s, chunks: %d", name, len(chunks))

	// 3. 向量化
	now := p.now().UTC()
	records := make([]model.IndexRecord, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := p.embedder.CreateEmbedding(ctx, chunk.Text)
		if err != nil {
			return fail("embed", fmt.Errorf("chunk %d: %w", chunk.Index, err))
		}
		records = append(records, model.IndexRecord{
			ContentKey:   ContentKey(chunk),
			Text:         chunk.Text,
			Vector:       vector,
			Source:       chunk.Source,
			FileMD5:      chunk.FileMD5,
			Page:         chunk.Page,
			ChunkIndex:   chunk.Index,
			ModelVersion: p.modelVersion,
			IngestedAt:   now,
		})
	}
	log.Infof("[Processor] 步骤3: 向量化完成, file: %s, vectors: %d", name, len(records))

	// 4. 写入索引
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := p.index.Upsert(ctx, records[start:end]); err != nil {
			return fail("index", err)
		}
	}
	log.Infof("[Processor] 步骤4: 已写入索引, file: %s, records: %d", name, len(records))

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, path, fileMD5); err != nil {
			log.Warnf("[Processor] 归档文件失败, file: %s, error: %v", name, err)
		}
	}
	if p.ledger != nil {
		err := p.ledger.Upsert(&model.IngestedDocument{
			FileMD5:    fileMD5,
			FileName:   name,
			Pages:      len(doc.Pages),
			ChunkCount: len(records),
			Model:      p.modelVersion,
		})
		if err != nil {
			log.Warnf("[Processor] 更新入库台账失败, file: %s, error: %v", name, err)
		}
	}
	return len(records), false, nil
}

// load 依次尝试各个加载器，返回第一个提取到文本的结果。
func (p *Processor) load(ctx context.Context, path string) (*model.Document, error) {
	var errs []error
	for _, l := range p.loaders {
		doc, err := l.Load(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if hasText(doc) {
			return doc, nil
		}
		errs = append(errs, model.ErrNoText)
	}
	return nil, errors.Join(errs...)
}

func hasText(doc *model.Document) bool {
	for _, page := range doc.Pages {
		if strings.TrimSpace(page.Text) != "" {
			return true
		}
	}
	return false
}

// ContentKey 是分块的幂等键：同一文件内容、同一位置、同一文本总是得到相同的键。
func ContentKey(c model.Chunk) string {
	h := sha256.New()
	h.Write([]byte(c.FileMD5))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(c.Page)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(c.Index)))
	h.Write([]byte{0})
	h.Write([]byte(c.Text))
	return hex.EncodeToString(h.Sum(nil))
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
