// Package storage writes snapshot and rollback records to MinIO as JSON
// objects for long-term retention.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Config selects the MinIO endpoint and bucket
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// SnapshotArchive implements the rollback archive on an object store
type SnapshotArchive struct {
	client objectPutter
	bucket string
	logger *zap.Logger
}

// NewSnapshotArchive connects to MinIO and creates the bucket if needed
func NewSnapshotArchive(ctx context.Context, cfg Config, logger *zap.Logger) (*SnapshotArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		if logger != nil {
			logger.Info("created bucket", zap.String("bucket", cfg.Bucket))
		}
	}

	return newSnapshotArchive(client, cfg.Bucket, logger), nil
}

func newSnapshotArchive(client objectPutter, bucket string, logger *zap.Logger) *SnapshotArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotArchive{client: client, bucket: bucket, logger: logger}
}

// SnapshotObject is the object name of a snapshot, partitioned by day
func SnapshotObject(snap domain.SystemSnapshot) string {
	return fmt.Sprintf("snapshots/%s/%s.json", snap.Timestamp.UTC().Format("2006/01/02"), snap.SnapshotID)
}

// RollbackObject is the object name of a rollback operation
func RollbackObject(op domain.RollbackOperation) string {
	return fmt.Sprintf("rollbacks/%s/%s.json", op.CreatedAt.UTC().Format("2006/01/02"), op.RollbackID)
}

func (s *SnapshotArchive) ArchiveSnapshot(ctx context.Context, snap domain.SystemSnapshot) error {
	return s.put(ctx, SnapshotObject(snap), snap, map[string]string{
		"snapshot-id":   snap.SnapshotID,
		"checksum":      snap.Checksum,
		"rollback-safe": strconv.FormatBool(snap.RollbackSafe),
		"created-at":    snap.Timestamp.UTC().Format(time.RFC3339),
	})
}

func (s *SnapshotArchive) ArchiveRollback(ctx context.Context, op domain.RollbackOperation) error {
	return s.put(ctx, RollbackObject(op), op, map[string]string{
		"rollback-id": op.RollbackID,
		"status":      string(op.Status),
		"trigger":     string(op.Trigger),
		"snapshot-id": op.TargetSnapshotID,
	})
}

func (s *SnapshotArchive) put(ctx context.Context, object string, v any, meta map[string]string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", object, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", object, err)
	}
	s.logger.Debug("archived object", zap.String("bucket", s.bucket), zap.String("object", object))
	return nil
}
