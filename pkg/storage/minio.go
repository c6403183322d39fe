// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"research-rag-go/internal/config"
	"research-rag-go/pkg/log"
)

// Archiver 把入库成功的 PDF 原件归档到 MinIO 存储桶。
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewArchiver(ctx context.Context, cfg config.MinIOConfig) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}
	return &Archiver{client: client, bucket: cfg.BucketName}, nil
}

// Archive 上传本地文件，对象名为 "<md5>/<文件名>"，同一内容重复归档会覆盖。
func (a *Archiver) Archive(ctx context.Context, localPath, fileMD5 string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	object := ObjectName(fileMD5, localPath)
	_, err = a.client.PutObject(ctx, a.bucket, object, f, info.Size(), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return fmt.Errorf("上传 %s 到 MinIO 失败: %w", object, err)
	}
	log.Debugf("[Archiver] 已归档 %s -> %s/%s", localPath, a.bucket, object)
	return nil
}

// ObjectName 返回文件在存储桶中的对象名。
func ObjectName(fileMD5, localPath string) string {
	return fileMD5 + "/" + filepath.Base(localPath)
}
