package export

import (
	"context"
	"fmt"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
)

// StoreType names a snapshot storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStore creates the snapshot store selected by cfg.
func NewStore(ctx context.Context, cfg config.ExportConfig) (Store, error) {
	storeType := StoreType(cfg.StorageType)
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dir := cfg.Dir
		if dir == "" {
			dir = "exports"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("EXPORT_S3_BUCKET is required for S3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("EXPORT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported export storage type: %s", storeType)
	}
}
