package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
)

// Override adjusts a freshly loaded config. Command-line flags are applied
// this way so they survive a reload.
type Override func(*Config)

// Change reports which sections differ between two configs.
type Change struct {
	Agent     bool // agent or models: the orchestrator must be rebuilt
	Reminders bool
	Store     bool // takes effect on restart
	Gateway   bool // takes effect on restart
}

// Any reports whether anything changed.
func (c Change) Any() bool {
	return c.Agent || c.Reminders || c.Store || c.Gateway
}

// Diff compares prev and next section by section. Buffer sizes and the
// event log directory are fixed for the life of the process and ignored.
func Diff(prev, next *Config) Change {
	return Change{
		Agent:     prev.Agent != next.Agent || !reflect.DeepEqual(prev.Models, next.Models),
		Reminders: prev.Reminders != next.Reminders,
		Store:     prev.Store != next.Store,
		Gateway:   prev.Gateway != next.Gateway,
	}
}

// Listener is notified after a reload that changed something.
type Listener func(next *Config, change Change)

// Reloader re-reads .env and the config file on demand, keeps the result
// behind an atomic pointer and tells listeners which sections moved.
type Reloader struct {
	configPath string
	dotenvPath string
	overrides  []Override
	current    atomic.Pointer[Config]

	mu        sync.Mutex // serializes Reload and OnReload
	listeners []Listener
}

// NewReloader creates a Reloader starting from initial. overrides run on
// every reloaded config, in order.
func NewReloader(configPath, dotenvPath string, initial *Config, overrides ...Override) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
		overrides:  overrides,
	}
	r.current.Store(initial)
	return r
}

// Current returns the active config.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers fn for subsequent reloads.
func (r *Reloader) OnReload(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads .env (overriding the environment) and the config file,
// which may have been removed in favour of defaults. On failure the active
// config is kept. Listeners only run when a section changed.
func (r *Reloader) Reload() (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return Change{}, fmt.Errorf("reload dotenv: %w", err)
	}

	cfg, err := Load(r.configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = Default()
	case err != nil:
		return Change{}, fmt.Errorf("reload config: %w", err)
	}
	for _, o := range r.overrides {
		o(cfg)
	}

	prev := r.current.Swap(cfg)
	change := Diff(prev, cfg)
	slog.Info("config reloaded",
		"path", r.configPath,
		"agent", change.Agent,
		"reminders", change.Reminders,
	)
	if change.Store || change.Gateway {
		slog.Warn("store and gateway settings changed; restart to apply them")
	}
	if !change.Any() {
		return change, nil
	}

	for _, fn := range r.listeners {
		fn(cfg, change)
	}
	return change, nil
}
