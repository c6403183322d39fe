// Package repository 提供了与数据库进行数据交互的功能。
package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"research-rag-go/internal/model"
)

// DocumentRepository 定义了对 ingested_documents 表的数据操作接口。
type DocumentRepository interface {
	FindByMD5(fileMD5 string) (*model.IngestedDocument, error)
	Upsert(doc *model.IngestedDocument) error
	List() ([]model.IngestedDocument, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// FindByMD5 根据文件 MD5 查找入库记录，不存在时返回 (nil, nil)。
func (r *documentRepository) FindByMD5(fileMD5 string) (*model.IngestedDocument, error) {
	var doc model.IngestedDocument
	err := r.db.Where("file_md5 = ?", fileMD5).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Upsert 按 file_md5 新增或更新一条入库记录。
func (r *documentRepository) Upsert(doc *model.IngestedDocument) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_md5"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "pages", "chunk_count", "model_version", "updated_at"}),
	}).Create(doc).Error
}

// List 返回全部入库记录，按文件名排序。
func (r *documentRepository) List() ([]model.IngestedDocument, error) {
	var docs []model.IngestedDocument
	err := r.db.Order("file_name ASC").Find(&docs).Error
	return docs, err
}
