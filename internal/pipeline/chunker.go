package pipeline

import (
	"fmt"

	"research-rag-go/internal/model"
)

const (
	// DefaultChunkSize 与 DefaultChunkOverlap 以字符（rune）计。
	DefaultChunkSize    = 100
	DefaultChunkOverlap = 20
)

// Split 将文档按页切分为固定大小、相互重叠的分块。
// 分块不跨页，每一步窗口前进 chunkSize-chunkOverlap 个字符；空页不产生分块。
func Split(doc model.Document, chunkSize, chunkOverlap int) ([]model.Chunk, error) {
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", model.ErrInvalidChunkParams, chunkSize, chunkOverlap)
	}

	var chunks []model.Chunk
	index := 0
	for _, page := range doc.Pages {
		for _, text := range splitText(page.Text, chunkSize, chunkOverlap) {
			chunks = append(chunks, model.Chunk{
				Text:    text,
				Source:  doc.Name,
				FileMD5: doc.FileMD5,
				Page:    page.Number,
				Index:   index,
			})
			index++
		}
	}
	return chunks, nil
}

// splitText 将长文本按指定大小和重叠进行切分，最后一块可能短于 chunkSize。
func splitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
