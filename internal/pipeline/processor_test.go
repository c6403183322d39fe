package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
)

// fakeLoader 根据文件内容构造文档："corrupt" 视为损坏文件，"empty" 没有文本，
// 其余内容生成 3 页、每页 1000 字符的文档。
type fakeLoader struct{}

func (fakeLoader) Load(_ context.Context, path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch string(data) {
	case "corrupt":
		return nil, errors.New("malformed PDF")
	case "empty":
		return &model.Document{Path: path, Name: filepath.Base(path), Pages: []model.Page{{Number: 1}}}, nil
	}
	doc := &model.Document{Path: path, Name: filepath.Base(path)}
	for i := 1; i <= 3; i++ {
		doc.Pages = append(doc.Pages, model.Page{Number: i, Text: strings.Repeat(string(rune('a'+i)), 1000)})
	}
	return doc, nil
}

type textLoader struct{}

func (textLoader) Load(_ context.Context, path string) (*model.Document, error) {
	return &model.Document{Path: path, Name: filepath.Base(path), Pages: []model.Page{{Number: 1, Text: "fallback text"}}}, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	records map[string]model.IndexRecord
	err     error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{records: map[string]model.IndexRecord{}}
}

func (f *fakeWriter) Upsert(_ context.Context, records []model.IndexRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.records[r.ContentKey] = r
	}
	return nil
}

type fakeLedger struct {
	docs map[string]*model.IngestedDocument
}

func (f *fakeLedger) FindByMD5(fileMD5 string) (*model.IngestedDocument, error) {
	return f.docs[fileMD5], nil
}

func (f *fakeLedger) Upsert(doc *model.IngestedDocument) error {
	f.docs[doc.FileMD5] = doc
	return nil
}

type fakeArchiver struct {
	archived []string
}

func (f *fakeArchiver) Archive(_ context.Context, localPath, _ string) error {
	f.archived = append(f.archived, filepath.Base(localPath))
	return nil
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newTestProcessor(w VectorWriter, e *fakeEmbedder, opts ...Option) *Processor {
	return NewProcessor(fakeLoader{}, e, w, config.IngestConfig{ChunkSize: 100, ChunkOverlap: 20}, "test-model", opts...)
}

func TestIngestDirectory_ThreePagePDF(t *testing.T) {
	dir := writeFiles(t, map[string]string{"paper.pdf": "valid"})
	w := newFakeWriter()

	report, err := newTestProcessor(w, &fakeEmbedder{}).IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Empty(t, report.Errors)

	// ceil((1000-20)/80) = 13 个分块每页
	perPage := map[int]int{}
	for _, r := range w.records {
		perPage[r.Page]++
		assert.Equal(t, "paper.pdf", r.Source)
		assert.Equal(t, "test-model", r.ModelVersion)
		assert.NotEmpty(t, r.FileMD5)
	}
	assert.Equal(t, map[int]int{1: 13, 2: 13, 3: 13}, perPage)
	assert.Equal(t, 39, report.Chunks)
}

func TestIngestDirectory_CorruptFileIsSkipped(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a-corrupt.pdf": "corrupt", "b-valid.pdf": "valid"})
	w := newFakeWriter()

	report, err := newTestProcessor(w, &fakeEmbedder{}).IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "a-corrupt.pdf", report.Errors[0].File)
	assert.Contains(t, report.Errors[0].Error, "malformed PDF")
	assert.Len(t, w.records, 39)
}

func TestIngestDirectory_NoTextIsAnError(t *testing.T) {
	dir := writeFiles(t, map[string]string{"scan.pdf": "empty"})

	report, err := newTestProcessor(newFakeWriter(), &fakeEmbedder{}).IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Error, model.ErrNoText.Error())
}

func TestIngestDirectory_FallbackLoader(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.pdf": "corrupt", "b.pdf": "empty"})
	w := newFakeWriter()
	p := newTestProcessor(w, &fakeEmbedder{}, WithFallbackLoader(textLoader{}))

	report, err := p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 2, report.Chunks)
}

func TestIngestDirectory_MissingDirectory(t *testing.T) {
	_, err := newTestProcessor(newFakeWriter(), &fakeEmbedder{}).
		IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), false)

	var ingestErr *model.IngestionError
	require.ErrorAs(t, err, &ingestErr)
	assert.Empty(t, ingestErr.File)
}

func TestIngestDirectory_EmbedAndIndexFailuresAreIsolated(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.pdf": "valid", "b.pdf": "valid too"})

	report, err := newTestProcessor(newFakeWriter(), &fakeEmbedder{err: errors.New("quota exceeded")}).
		IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	assert.Len(t, report.Errors, 2)

	w := newFakeWriter()
	w.err = errors.New("index unavailable")
	report, err = newTestProcessor(w, &fakeEmbedder{}).IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0].Error, "index unavailable")
}

func TestIngestDirectory_ReingestIsIdempotent(t *testing.T) {
	dir := writeFiles(t, map[string]string{"paper.pdf": "valid"})
	w := newFakeWriter()
	p := newTestProcessor(w, &fakeEmbedder{})

	_, err := p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	first := len(w.records)
	_, err = p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, first, len(w.records))
}

func TestIngestDirectory_LedgerSkipsUnchangedFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{"paper.pdf": "valid"})
	ledger := &fakeLedger{docs: map[string]*model.IngestedDocument{}}
	archiver := &fakeArchiver{}
	e := &fakeEmbedder{}
	p := newTestProcessor(newFakeWriter(), e, WithLedger(ledger), WithArchiver(archiver))

	report, err := p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	require.Len(t, ledger.docs, 1)
	for _, doc := range ledger.docs {
		assert.Equal(t, "paper.pdf", doc.FileName)
		assert.Equal(t, 3, doc.Pages)
		assert.Equal(t, 39, doc.ChunkCount)
	}
	assert.Equal(t, []string{"paper.pdf"}, archiver.archived)

	calls := e.calls
	report, err = p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Documents)
	assert.Equal(t, calls, e.calls)

	report, err = p.IngestDirectory(context.Background(), dir, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Greater(t, e.calls, calls)
}

func TestIngestDirectory_RecordOnlyLedgerNeverSkips(t *testing.T) {
	dir := writeFiles(t, map[string]string{"paper.pdf": "valid"})
	ledger := &fakeLedger{docs: map[string]*model.IngestedDocument{}}
	w := newFakeWriter()
	p := newTestProcessor(w, &fakeEmbedder{}, WithLedger(ledger), WithoutLedgerSkip())

	_, err := p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	require.Len(t, ledger.docs, 1)

	// 模拟重启后进程内索引被清空
	restarted := newFakeWriter()
	p = newTestProcessor(restarted, &fakeEmbedder{}, WithLedger(ledger), WithoutLedgerSkip())
	report, err := p.IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 1, report.Documents)
	assert.Len(t, restarted.records, 39)
}

func TestIngestDirectory_SkipsSubdirectoriesAndHiddenFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{".DS_Store": "corrupt", "paper.pdf": "valid"})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	report, err := newTestProcessor(newFakeWriter(), &fakeEmbedder{}).IngestDirectory(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Empty(t, report.Errors)
}

func TestIngestDirectory_Cancelled(t *testing.T) {
	dir := writeFiles(t, map[string]string{"paper.pdf": "valid"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestProcessor(newFakeWriter(), &fakeEmbedder{}).IngestDirectory(ctx, dir, false)
	var ingestErr *model.IngestionError
	require.ErrorAs(t, err, &ingestErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentKey(t *testing.T) {
	c := model.Chunk{Text: "hello", FileMD5: "abc", Page: 1, Index: 0}
	assert.Equal(t, ContentKey(c), ContentKey(c))

	moved := c
	moved.Index = 1
	assert.NotEqual(t, ContentKey(c), ContentKey(moved))

	otherFile := c
	otherFile.FileMD5 = "def"
	assert.NotEqual(t, ContentKey(c), ContentKey(otherFile))
	assert.Len(t, ContentKey(c), 64)
}
