// Package model 定义了 RAG 流程中流转的数据结构。
package model

// Page 是文档中的一页及其提取出的纯文本。
type Page struct {
	Number int
	Text   string
}

// Document 代表一次入库运行中读取的源文件，分块后即被丢弃。
type Document struct {
	Path    string
	Name    string
	FileMD5 string
	Pages   []Page
}

// Chunk 是文档某一页文本中连续的一段，是向量化与检索的基本单位。
type Chunk struct {
	Text    string
	Source  string
	FileMD5 string
	Page    int
	// Index 是分块在整个文档内的序号
	Index int
}
