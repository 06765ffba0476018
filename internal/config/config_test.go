package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "3001" {
		t.Errorf("expected default port '3001', got '%s'", cfg.Port)
	}
	if cfg.JWTSecret != "dev-secret-change-in-prod" {
		t.Errorf("expected default JWT secret, got '%s'", cfg.JWTSecret)
	}
	if cfg.BrokerDriver != "amqp" {
		t.Errorf("expected default broker driver 'amqp', got '%s'", cfg.BrokerDriver)
	}
	if cfg.BrokerReconnectDelay != 5*time.Second {
		t.Errorf("expected 5s reconnect delay, got %s", cfg.BrokerReconnectDelay)
	}
	if cfg.BrokerPrefetch != 1 {
		t.Errorf("expected prefetch 1, got %d", cfg.BrokerPrefetch)
	}
	if cfg.CacheTTL != 300*time.Second {
		t.Errorf("expected 300s cache TTL, got %s", cfg.CacheTTL)
	}
	if cfg.NotificationFrom != "TaskFlow Notifications" {
		t.Errorf("expected default from name, got '%s'", cfg.NotificationFrom)
	}
	if cfg.EmailTrackStatus {
		t.Error("expected email status tracking off by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "my-secret")
	t.Setenv("BROKER_RECONNECT_DELAY", "250ms")
	t.Setenv("CACHE_DRIVER", "memory")
	t.Setenv("EMAIL_TRACK_STATUS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected port '9090', got '%s'", cfg.Port)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("expected JWT secret 'my-secret', got '%s'", cfg.JWTSecret)
	}
	if cfg.BrokerReconnectDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms reconnect delay, got %s", cfg.BrokerReconnectDelay)
	}
	if cfg.CacheDriver != "memory" {
		t.Errorf("expected cache driver 'memory', got '%s'", cfg.CacheDriver)
	}
	if !cfg.EmailTrackStatus {
		t.Error("expected email status tracking on")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	content := "port: \"4000\"\nredis_host: cache.internal\nbroker_driver: memory\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "4100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "4100" {
		t.Errorf("expected env to win with '4100', got '%s'", cfg.Port)
	}
	if cfg.RedisAddr() != "cache.internal:6379" {
		t.Errorf("expected redis addr from file, got '%s'", cfg.RedisAddr())
	}
	if cfg.BrokerDriver != "memory" {
		t.Errorf("expected broker driver from file, got '%s'", cfg.BrokerDriver)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "nats")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "BROKER_DRIVER") {
		t.Errorf("expected error to name BROKER_DRIVER, got %v", err)
	}
}

func TestLoadKafkaRequiresBrokers(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "kafka")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error when kafka driver has no brokers")
	}
}

func TestKafkaBrokerList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "k1:9092, k2:9092,,"}
	got := cfg.KafkaBrokerList()
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("unexpected broker list %v", got)
	}
}

func TestOriginList(t *testing.T) {
	cfg := &Config{AllowedOrigins: "http://a.test, http://b.test"}
	got := cfg.OriginList()
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("unexpected origin list %v", got)
	}
	if got := (&Config{}).OriginList(); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}
