// Package pdf 使用 ledongthuc/pdf 按页提取 PDF 文本。
package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"research-rag-go/internal/model"
)

// Loader 从本地 PDF 文件加载按页划分的文本。
type Loader struct{}

// NewLoader 创建一个新的 PDF Loader。
func NewLoader() *Loader {
	return &Loader{}
}

// Load 打开 PDF 并逐页提取纯文本，页码从 1 开始。
// 解析库在遇到损坏文件时可能 panic，这里统一转换为 error。
func (l *Loader) Load(ctx context.Context, path string) (doc *model.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("parse pdf %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	doc = &model.Document{Path: path, Name: filepath.Base(path)}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		doc.Pages = append(doc.Pages, model.Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return doc, nil
}
