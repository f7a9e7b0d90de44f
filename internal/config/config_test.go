package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
mqtt:
  broker_url: tcp://localhost:1883
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.MQTT.ClientID != "ipd24-hub" {
		t.Fatalf("ClientID = %q", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.Retain == nil || !*cfg.MQTT.Retain {
		t.Fatal("Retain should default to true")
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.Path != "./hub.db" {
		t.Fatalf("store defaults: %+v", cfg.Store)
	}
	if cfg.HTTP.Addr != ":2500" {
		t.Fatalf("Addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker_url: tcp://localhost:1883
  brokerurl: oops
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestLoadRejectsMissingBroker(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
log:
  level: debug
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "broker_url") {
		t.Fatalf("expected broker_url error, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker_url: tcp://localhost:1883
engine:
  grace: ninety seconds
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "engine.grace") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoadRejectsBadQoS(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker_url: tcp://localhost:1883
  qos: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "qos") {
		t.Fatalf("expected qos error, got %v", err)
	}
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("HUB_MQTT_USERNAME", "hub")
	t.Setenv("HUB_MQTT_PASSWORD", "s3cret")
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker_url: tcp://localhost:1883
  username: file-user
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Username != "hub" || cfg.MQTT.Password != "s3cret" {
		t.Fatalf("env overrides not applied: %q %q", cfg.MQTT.Username, cfg.MQTT.Password)
	}
}

func TestLoadNotifyRequiresToken(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
mqtt:
  broker_url: tcp://localhost:1883
notify:
  enabled: true
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("expected token error, got %v", err)
	}

	t.Setenv("HUB_TELEGRAM_TOKEN", "123:abc")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load with env token: %v", err)
	}
	if cfg.Notify.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Notify.Telegram.Token)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeConfig(t, "config.json", `{"mqtt": {"broker_url": "tcp://localhost:1883"}, "topics": ["room/temperature"]}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Topics) != 1 || cfg.Topics[0] != "room/temperature" {
		t.Fatalf("topics = %v", cfg.Topics)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty field should parse to zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "later"); err == nil {
		t.Fatal("expected parse error")
	}
	if d, err := ParseDurationOrDefault("x", "", 5); err != nil || d != 5 {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
