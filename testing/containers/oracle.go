//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/go-sqlobject/config"
)

// OracleContainerConfig holds configuration for the Oracle test container
type OracleContainerConfig struct {
	// ImageTag of gvenzl/oracle-free (default: "23-slim")
	ImageTag string
	// Password for SYSTEM and the application user
	Password string
	// Service is the pluggable database service name (default: "FREEPDB1")
	Service string
	AppUser string
	// StartupTimeout for container initialization (default: 120 seconds)
	StartupTimeout time.Duration
}

// DefaultOracleConfig returns the settings used when nil is passed to
// StartOracleContainer.
func DefaultOracleConfig() *OracleContainerConfig {
	return &OracleContainerConfig{
		ImageTag:       "23-slim",
		Password:       "testpass",
		Service:        "FREEPDB1",
		AppUser:        "testuser",
		StartupTimeout: 120 * time.Second,
	}
}

// OracleContainer is a running Oracle Free server for integration tests.
type OracleContainer struct {
	container testcontainers.Container
	cfg       *OracleContainerConfig
	host      string
	port      int
}

// StartOracleContainer starts Oracle Free and waits until the application
// user can connect. The test is skipped when Docker is not available.
func StartOracleContainer(ctx context.Context, t *testing.T, cfg *OracleContainerConfig) (*OracleContainer, error) {
	t.Helper()

	if cfg == nil {
		cfg = DefaultOracleConfig()
	}
	if !isDockerAvailable(ctx) {
		t.Skip("Docker is not available - skipping integration test")
		return nil, nil
	}

	req := testcontainers.ContainerRequest{
		Image:        fmt.Sprintf("gvenzl/oracle-free:%s", cfg.ImageTag),
		ExposedPorts: []string{"1521/tcp"},
		Env: map[string]string{
			"ORACLE_PASSWORD":   cfg.Password,
			"APP_USER":          cfg.AppUser,
			"APP_USER_PASSWORD": cfg.Password,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("DATABASE IS READY TO USE!"),
			wait.ForListeningPort("1521/tcp"),
		).WithDeadline(cfg.StartupTimeout),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Oracle container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Oracle container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "1521/tcp")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Oracle container port: %w", err)
	}

	t.Logf("Oracle container started at %s:%d (service: %s)", host, port.Int(), cfg.Service)
	return &OracleContainer{container: c, cfg: cfg, host: host, port: port.Int()}, nil
}

// MustStartOracleContainer is StartOracleContainer failing the test on error.
func MustStartOracleContainer(ctx context.Context, t *testing.T, cfg *OracleContainerConfig) *OracleContainer {
	t.Helper()
	c, err := StartOracleContainer(ctx, t, cfg)
	if err != nil {
		t.Fatalf("Failed to start Oracle container: %v", err)
	}
	return c
}

// DatabaseConfig returns a database section connecting as the application
// user through the service name.
func (o *OracleContainer) DatabaseConfig() *config.DatabaseConfig {
	cfg := &config.DatabaseConfig{
		Type:     config.Oracle,
		Host:     o.host,
		Port:     o.port,
		Username: o.cfg.AppUser,
		Password: o.cfg.Password,
	}
	cfg.Oracle.Service.Name = o.cfg.Service
	return cfg
}

// Terminate stops and removes the container.
func (o *OracleContainer) Terminate(ctx context.Context) error {
	if o.container == nil {
		return nil
	}
	return o.container.Terminate(ctx)
}

// WithCleanup terminates the container when the test finishes.
func (o *OracleContainer) WithCleanup(t *testing.T) *OracleContainer {
	t.Helper()
	t.Cleanup(func() {
		if err := o.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate Oracle container: %v", err)
		}
	})
	return o
}
