package service

import (
	"research-rag-go/internal/model"
	"research-rag-go/internal/repository"
)

// DocumentService 定义了入库台账的查询接口。
type DocumentService interface {
	ListDocuments() ([]model.IngestedDocument, error)
}

type documentService struct {
	repo repository.DocumentRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例，repo 为 nil 时返回空列表。
func NewDocumentService(repo repository.DocumentRepository) DocumentService {
	return &documentService{repo: repo}
}

// ListDocuments 返回全部已入库文件。
func (s *documentService) ListDocuments() ([]model.IngestedDocument, error) {
	if s.repo == nil {
		return []model.IngestedDocument{}, nil
	}
	docs, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.IngestedDocument{}
	}
	return docs, nil
}
