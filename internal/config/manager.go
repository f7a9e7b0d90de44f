package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher re-reads the config file when it changes and publishes validated
// snapshots to subscribers. Invalid edits are logged and dropped; the last
// good config stays in effect.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	cfg *Config

	// lastHash avoids redundant publishes when an editor emits several
	// write events without content changes.
	lastHash uint64
}

func NewWatcher(path string, initial *Config, log zerolog.Logger) *Watcher {
	return &Watcher{path: path, cfg: initial, lastHash: hashConfig(initial), log: log}
}

// Current returns the last committed config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Watch blocks until ctx is done, invoking onChange for every committed
// reload. Editors replace files via rename, so the parent directory is
// watched rather than the file itself.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(w.path)

	var debounce *time.Timer
	reload := func() {
		cfg, err := w.reload()
		if err != nil {
			w.log.Warn().Err(err).Msg("config reload rejected, keeping previous")
			return
		}
		if cfg == nil {
			return // unchanged
		}
		w.log.Info().Msg("config reloaded")
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// reload parses and validates the file. Returns (nil, nil) when the content
// hash is unchanged.
func (w *Watcher) reload() (*Config, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(w.path, b)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := hashConfig(cfg)
	w.mu.Lock()
	defer w.mu.Unlock()
	if h == w.lastHash {
		return nil, nil
	}
	w.cfg = cfg
	w.lastHash = h
	return cfg, nil
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
