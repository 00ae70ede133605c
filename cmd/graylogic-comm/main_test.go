package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/api"
	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/logging"
)

const baseConfig = `
site:
  id: test-site

database:
  path: "%DB%"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "test-client"
  qos: 1

influxdb:
  enabled: false

logging:
  level: %LEVEL%
  format: text
  output: stdout

api:
  enabled: false
`

func writeConfig(t *testing.T, dbPath, level string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.NewReplacer("%DB%", dbPath, "%LEVEL%", level).Replace(baseConfig)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails validation without a database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", writeConfig(t, "", "info"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path validation failure", err)
	}
}

// TestRun_BrokerUnavailable verifies run fails when MQTT cannot connect.
func TestRun_BrokerUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("GRAYLOGIC_CONFIG", writeConfig(t, dbPath, "error"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without an MQTT broker")
	}
	if !strings.Contains(err.Error(), "MQTT") {
		t.Errorf("error = %v, want MQTT connection failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("not connected") })

	if err := healthCheck(context.Background(), map[string]api.HealthChecker{"database": ok, "mqtt": ok}); err != nil {
		t.Errorf("healthCheck() = %v, want nil", err)
	}

	err := healthCheck(context.Background(), map[string]api.HealthChecker{"database": ok, "mqtt": down})
	if err == nil || !strings.Contains(err.Error(), "mqtt: not connected") {
		t.Errorf("healthCheck() = %v, want mqtt failure", err)
	}
}

func TestReload(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}, "test")
	manager := comm.NewManager(comm.ManagerDeps{})

	path := writeConfig(t, filepath.Join(t.TempDir(), "test.db"), "debug")
	if err := reload(path, log, manager); err != nil {
		t.Fatalf("reload() error: %v", err)
	}
	if got := log.Level().String(); got != "DEBUG" {
		t.Errorf("level after reload = %s, want DEBUG", got)
	}

	if err := reload("/nonexistent/config.yaml", log, manager); err == nil {
		t.Error("reload() of a missing file should fail")
	}
	if got := log.Level().String(); got != "DEBUG" {
		t.Errorf("level after failed reload = %s, want DEBUG", got)
	}
}
