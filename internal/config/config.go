// Package config loads the hub configuration from a YAML (or JSON) file,
// applies environment overrides for secrets, and watches the file for
// changes.
//
// Unknown keys are rejected: the YAML document is coerced to JSON and run
// through a strict decoder, so a typo fails loudly instead of silently
// falling back to a default.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Log    LogConfig    `json:"log"`
	MQTT   MQTTConfig   `json:"mqtt"`
	Store  StoreConfig  `json:"store"`
	HTTP   HTTPConfig   `json:"http"`
	Engine EngineConfig `json:"engine"`
	Notify NotifyConfig `json:"notify,omitempty"`

	// Topics is the bootstrap subscription list for the live-state cache:
	// every known device/sensor topic the dashboard shows.
	Topics []string `json:"topics,omitempty"`
}

type LogConfig struct {
	Level   string  `json:"level,omitempty"`
	Console bool    `json:"console,omitempty"`
	File    LogFile `json:"file,omitempty"`
}

type LogFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// MQTTConfig configures the broker connection. All durations are Go
// duration strings (e.g. "500ms", "10s").
type MQTTConfig struct {
	BrokerURL      string `json:"broker_url"`
	ClientID       string `json:"client_id,omitempty"`
	Username       string `json:"username,omitempty" env:"HUB_MQTT_USERNAME"`
	Password       string `json:"password,omitempty" env:"HUB_MQTT_PASSWORD"`
	QoS            int    `json:"qos,omitempty"`
	Retain         *bool  `json:"retain,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// EngineConfig tunes the scheduling engine.
//
// Grace is how far a not-in-the-future fire time is pushed forward instead
// of rejected (default "60s").
//
// Only one hub instance may run against a given store; two instances
// double-fire every task. That is a deployment constraint, not something
// the engine arbitrates.
type EngineConfig struct {
	Grace             string `json:"grace,omitempty"`
	ReconcileInterval string `json:"reconcile_interval,omitempty"` // default "5m"
	HistoryRetention  string `json:"history_retention,omitempty"`  // default "720h" (30 days)
}

// NotifyConfig controls the user-notification pipeline. Actions published
// to the reserved "notify" topic are routed here instead of the bus.
type NotifyConfig struct {
	Enabled    bool           `json:"enabled,omitempty"`
	Workers    int            `json:"workers,omitempty"`
	QueueSize  int            `json:"queue_size,omitempty"`
	RatePerSec int            `json:"rate_per_sec,omitempty"`
	Telegram   TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty" env:"HUB_TELEGRAM_TOKEN"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// Load reads, strictly decodes, env-overrides, and defaults a config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(path, b)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(path string, b []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	// reject trailing tokens (e.g. concatenated documents)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse %s: trailing data", filepath.Base(path))
		}
		return nil, err
	}
	return &cfg, nil
}

// coerceToJSONBytes converts YAML to JSON so the strict JSON decoder serves
// both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return json.Marshal(v)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ipd24-hub"
	}
	if c.MQTT.Retain == nil {
		t := true
		c.MQTT.Retain = &t
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "./hub.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":2500"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.MQTT.BrokerURL) == "" {
		return fmt.Errorf("mqtt.broker_url is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	durations := map[string]string{
		"mqtt.connect_timeout":      c.MQTT.ConnectTimeout,
		"mqtt.publish_timeout":      c.MQTT.PublishTimeout,
		"store.busy_timeout":        c.Store.BusyTimeout,
		"http.read_timeout":         c.HTTP.ReadTimeout,
		"http.write_timeout":        c.HTTP.WriteTimeout,
		"engine.grace":              c.Engine.Grace,
		"engine.reconcile_interval": c.Engine.ReconcileInterval,
		"engine.history_retention":  c.Engine.HistoryRetention,
	}
	for name, raw := range durations {
		if _, err := ParseDurationField(name, raw); err != nil {
			return err
		}
	}
	if c.Notify.Enabled && strings.TrimSpace(c.Notify.Telegram.Token) == "" {
		return fmt.Errorf("notify.telegram.token is required when notify is enabled")
	}
	return nil
}
