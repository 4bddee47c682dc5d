package minio

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"crm-feed/internal/config"
	"crm-feed/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Store 评论导出文件的对象存储
type Store struct {
	client *minio.Client
	bucket string
}

// Init 初始化 MinIO 客户端并确保导出 Bucket 存在
func Init(cfg *config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.ExportBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.ExportBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.ExportBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.ExportBucket, err)
		}
		logger.Info("MinIO bucket created", zap.String("bucket", cfg.ExportBucket))
	}

	logger.Info("MinIO connected",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.ExportBucket),
	)
	return &Store{client: client, bucket: cfg.ExportBucket}, nil
}

// Put 上传导出内容，返回对象名
func (s *Store) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to minio: %w", err)
	}
	return objectName, nil
}
