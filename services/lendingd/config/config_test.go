package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  write_scopes: [" lending:write ", " "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if !cfg.TLS.AllowInsecure {
		t.Fatalf("expected allow_insecure to propagate")
	}
	if len(cfg.Auth.WriteScopes) != 1 || cfg.Auth.WriteScopes[0] != "lending:write" {
		t.Fatalf("expected trimmed write scopes, got %v", cfg.Auth.WriteScopes)
	}
	if cfg.EngineConfig != "intentlend.toml" {
		t.Fatalf("unexpected engine config default %q", cfg.EngineConfig)
	}
	if cfg.RequestTimeout != 10*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts %s/%s", cfg.RequestTimeout, cfg.ShutdownTimeout)
	}
}

func TestLoadConfigFullStack(t *testing.T) {
	path := writeConfig(t, `
listen: ":8443"
env: staging
engine_config: /etc/intentlend/engine.toml
request_timeout: 3s
tls:
  cert: server.crt
  key: server.key
auth:
  enabled: true
  hmac_secret: "0123456789abcdef0123456789abcdef"
  issuer: intentlend
  read_scopes: [lending:read]
rate_limits:
  lending:
    rate_per_second: 5
    burst: 10
    tokens:
      "POST /v1/matches": 5
sinks:
  redis:
    addr: redis:6379
  sql:
    dsn: postgres://lend:lend@db/views
nats:
  url: nats://nats:4222
  buffer: 256
telemetry:
  endpoint: collector:4318
  sample_ratio: 0.5
logging:
  level: debug
  file: /var/log/lendingd.log
keeper:
  liquidator: "0x1111111111111111111111111111111111111111"
  interval: 10s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Issuer != "intentlend" {
		t.Fatalf("auth not decoded: %+v", cfg.Auth)
	}
	if cfg.RateLimits["lending"].Tokens["POST /v1/matches"] != 5 {
		t.Fatalf("route tokens not decoded: %+v", cfg.RateLimits)
	}
	if cfg.Sinks.Redis == nil || cfg.Sinks.Redis.Addr != "redis:6379" {
		t.Fatalf("redis sink not decoded")
	}
	if cfg.Sinks.SQL == nil || !strings.HasPrefix(cfg.Sinks.SQL.DSN, "postgres://") {
		t.Fatalf("sql sink not decoded")
	}
	if cfg.NATS.Buffer != 256 || cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected nats/timeout: %+v %s", cfg.NATS, cfg.RequestTimeout)
	}
	if !cfg.Keeper.Enabled() || cfg.Keeper.Interval != 10*time.Second || cfg.Keeper.BatchSize != 50 {
		t.Fatalf("unexpected keeper config: %+v", cfg.Keeper)
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
tls:
  cert: "server.crt"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigRequiresSecretWhenAuthEnabled(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  enabled: true
  hmac_secret: short
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hmac_secret") {
		t.Fatalf("expected hmac_secret error, got %v", err)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
listen_addr: ":1"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestLoadConfigJoinsErrors(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
sinks:
  sql: {}
telemetry:
  sample_ratio: 2
rate_limits:
  lending: {burst: 1}
keeper:
  liquidator: not-an-address
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"sinks.sql", "sample_ratio", "rate_limits.lending", "keeper: liquidator"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}
