package config

import (
	"os"
	"testing"
	"time"
)

var keys = []string{
	"SERVICE_NAME", "ENV", "LOG_LEVEL", "STORE_DRIVER", "POSTGRES_DSN", "SQLITE_PATH", "REDIS_ADDR", "KAFKA_BROKERS",
	"KAFKA_TOPIC_BET_EVENTS", "KAFKA_TOPIC_BET_EVENTS_DLQ", "REDIS_PUBSUB_CHANNEL", "KAFKA_CONSUMER_GROUP",
	"ORACLE_URL", "ORACLE_TIMEOUT", "ORACLE_STATIC_PRICES", "KEEPER_INTERVAL", "CACHE_TTL", "CORS_ORIGINS",
	"HTTP_PORT", "METRICS_PORT", "HTTP_PORT_BET", "METRICS_PORT_BET", "METRICS_PORT_KEEPER", "METRICS_PORT_WORKER",
}

// unsetAll limpa as variáveis e as restaura no fim do teste
func unsetAll(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetAll(t)
	cfg := Load()

	if cfg.Env != "local" {
		t.Errorf("expected env local, got %q", cfg.Env)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.SQLitePath != "./data/price-duel.db" {
		t.Errorf("unexpected sqlite path %q", cfg.SQLitePath)
	}
	if cfg.TopicBetEvents != "bet_events" || cfg.TopicBetEventsDLQ != "bet_events_dlq" {
		t.Errorf("unexpected topics %q / %q", cfg.TopicBetEvents, cfg.TopicBetEventsDLQ)
	}
	if cfg.RedisPubSubChannel != "bet_events_broadcast" {
		t.Errorf("unexpected channel %q", cfg.RedisPubSubChannel)
	}
	if cfg.OracleURL != "" || cfg.OracleTimeout != 5*time.Second {
		t.Errorf("unexpected oracle config %q %s", cfg.OracleURL, cfg.OracleTimeout)
	}
	if cfg.KeeperInterval != 15*time.Second || cfg.CacheTTL != 30*time.Second {
		t.Errorf("unexpected intervals %s %s", cfg.KeeperInterval, cfg.CacheTTL)
	}
	if cfg.HTTPPort != "8080" || cfg.MetricsPort != "9095" {
		t.Errorf("unexpected ports %s %s", cfg.HTTPPort, cfg.MetricsPort)
	}
}

func TestLoad_ServicePorts(t *testing.T) {
	cases := []struct {
		svc, http, metrics string
	}{
		{"bet-service", "8083", "9099"},
		{"claim-keeper", "", "9097"},
		{"bet-events-worker", "", "9096"},
	}
	for _, tc := range cases {
		t.Run(tc.svc, func(t *testing.T) {
			unsetAll(t)
			t.Setenv("SERVICE_NAME", tc.svc)
			cfg := Load()
			if cfg.HTTPPort != tc.http || cfg.MetricsPort != tc.metrics {
				t.Errorf("expected %q/%q, got %q/%q", tc.http, tc.metrics, cfg.HTTPPort, cfg.MetricsPort)
			}
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	unsetAll(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ORACLE_URL", "https://hermes.example.com")
	t.Setenv("ORACLE_TIMEOUT", "2s")
	t.Setenv("KEEPER_INTERVAL", "45")
	t.Setenv("CACHE_TTL", "bogus")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()
	if cfg.StoreDriver != "memory" || cfg.OracleURL != "https://hermes.example.com" {
		t.Errorf("unexpected values %+v", cfg)
	}
	if cfg.OracleTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.OracleTimeout)
	}
	if cfg.KeeperInterval != 45*time.Second {
		t.Errorf("expected 45s from bare seconds, got %s", cfg.KeeperInterval)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("invalid value should fall back to default, got %s", cfg.CacheTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.CORSOrigins)
	}
}
