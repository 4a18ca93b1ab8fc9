package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// GetPostgresEndpoint starts a throwaway PostgreSQL container and returns a
// pgx DSN for it. The container is terminated when the test finishes. Tests
// running with -short skip instead of pulling images.
func GetPostgresEndpoint(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "tagflow",
				"POSTGRES_PASSWORD": "tagflow",
				"POSTGRES_DB":       "tagflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container failed: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("resolving postgres endpoint failed: %v", err)
	}

	return fmt.Sprintf("postgres://tagflow:tagflow@%s/tagflow?sslmode=disable", endpoint)
}
