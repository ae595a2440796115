package runtime

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/oracle_layer/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Logging.Output = "stdout"
	cfg.Logging.Level = "error"
	cfg.Signing.KeySeed = strings.Repeat("7", 40)
	return cfg
}

func TestNewApplicationInMemoryWithLevelDBSnapshots(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Backend = config.SnapshotLevelDB
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "snapshot")

	application, err := NewApplication(cfg)
	require.NoError(t, err)
	require.NotNil(t, application.App().Feeds)
	require.NotNil(t, application.snapshots)
	require.Nil(t, application.db)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, application.Shutdown(context.Background()))
}

func TestNewApplicationRejectsUnknownSnapshotBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Backend = "tape"
	_, err := NewApplication(cfg)
	require.ErrorContains(t, err, "unknown snapshot backend")
}

func TestOpenDatabaseRequiresDriverAndDSN(t *testing.T) {
	_, err := openDatabase(config.DatabaseConfig{DSN: "postgres://x"})
	require.ErrorContains(t, err, "driver")

	_, err = openDatabase(config.DatabaseConfig{Driver: "postgres"})
	require.ErrorContains(t, err, "dsn")
}
