//go:build integration

// Package testcontainers starts throwaway PostgreSQL and Redis containers
// for integration tests. Run with: go test -tags integration ./...
package testcontainers

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresPort     = "5432"
	redisPort        = "6379"
	postgresUser     = "test"
	postgresPassword = "test"
	postgresDatabase = "weatherdash"
)

// Postgres starts a PostgreSQL container and returns its DSN. The container
// is terminated when the test finishes.
func Postgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{postgresPort + "/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDatabase,
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForExposedPort(),
			),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, port := endpoint(t, ctx, c, postgresPort)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, host, port, postgresDatabase)
}

// Redis starts a Redis container and returns its host:port address.
func Redis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{redisPort + "/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, port := endpoint(t, ctx, c, redisPort)
	return host + ":" + port
}

func endpoint(t *testing.T, ctx context.Context, c testcontainers.Container, port string) (string, string) {
	t.Helper()
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return host, mapped.Port()
}
