//go:build gcp

package export

import (
	"context"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
)

func newGCSStore(ctx context.Context, cfg config.ExportConfig) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
}
