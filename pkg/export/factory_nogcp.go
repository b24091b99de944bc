//go:build !gcp

package export

import (
	"context"
	"fmt"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
)

func newGCSStore(context.Context, config.ExportConfig) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
