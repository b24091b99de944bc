//go:build !gcp

package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
)

func TestNewStore_GCSNotCompiledIn(t *testing.T) {
	_, err := NewStore(context.Background(), config.ExportConfig{StorageType: "gcs", GCSBucket: "audit"})
	require.ErrorContains(t, err, "use -tags gcp")
}
