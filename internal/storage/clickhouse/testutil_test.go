package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-token-analytics/internal/storage/migrations"
)

// setupTestDB starts ClickHouse, creates the analytics database through
// EnsureDatabase and applies migrations.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := EnsureDatabase(ctx, fmt.Sprintf("clickhouse://%s:%s/analytics_test", host, port.Port()))
	require.NoError(t, err)

	_, err = migrations.ApplyClickhouse(ctx, conn.Conn, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}
}
