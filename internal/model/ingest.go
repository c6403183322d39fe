package model

import "time"

// IngestedDocument 对应 ingested_documents 表，记录已成功入库的文件。
type IngestedDocument struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileMD5    string    `gorm:"type:varchar(32);not null;uniqueIndex;column:file_md5" json:"fileMd5"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	Pages      int       `gorm:"not null" json:"pages"`
	ChunkCount int       `gorm:"not null" json:"chunkCount"`
	Model      string    `gorm:"type:varchar(64);column:model_version" json:"modelVersion"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IngestedDocument) TableName() string {
	return "ingested_documents"
}

// FileError 记录单个文件入库失败的原因，该文件被跳过。
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// IngestReport 汇总一次入库运行的结果。
type IngestReport struct {
	Documents int         `json:"documents"`
	Chunks    int         `json:"chunks"`
	Skipped   int         `json:"skipped"`
	Errors    []FileError `json:"errors"`
}
