// Package config holds the rebase engine's tunables: the stale-context
// TTL, the stale-lock threshold, lock-acquisition and CAS retry counts,
// and the temp-worktree feature flag (spec.md §4.4, §5, §10.3).
//
// Values load from an optional YAML file layered over hardcoded
// defaults, the same "defaults object, then merge non-zero fields from
// a parsed file" idiom as the teacher's internal/claude.Config —
// adapted here to engine tunables instead of prompt templates.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"go.abhg.dev/teapot/internal/execctx"
	"go.abhg.dev/teapot/internal/session"
)

// Config holds every engine-wide tunable named in the spec.
type Config struct {
	// StaleLockAge is how old an unowned cross-process lock file may
	// be before it is considered abandoned. Default 5 minutes.
	StaleLockAge time.Duration `yaml:"staleLockAge"`

	// LockAttempts is how many times to try acquiring the
	// cross-process lock before giving up. Default 10.
	LockAttempts int `yaml:"lockAttempts"`

	// TokenTTL is how long a recovery token remains valid before
	// being treated as stale. Default 24 hours. Must be positive;
	// see [Config.SetTokenTTL].
	TokenTTL time.Duration `yaml:"tokenTTL"`

	// DisableTempWorktree turns off temp-worktree creation, forcing
	// every execution context to use the repository's active
	// worktree directly.
	DisableTempWorktree bool `yaml:"disableTempWorktree"`

	// CASRetryAttempts is loaded like the other fields, but nothing
	// passes it to the session store: [session.Store.UpdateWithRetry]
	// always makes [session.DefaultRetryAttempts] attempts. Default 3.
	CASRetryAttempts int `yaml:"casRetryAttempts"`
}

// Default returns the spec's documented defaults: 24h token TTL, 5m
// stale-lock age, 10 lock attempts, 3 CAS retry attempts, temp
// worktrees enabled.
func Default() *Config {
	return &Config{
		StaleLockAge:     5 * time.Minute,
		LockAttempts:     10,
		TokenTTL:         24 * time.Hour,
		CASRetryAttempts: session.DefaultRetryAttempts,
	}
}

// Load reads path and merges it over [Default]: zero-valued fields in
// the file (0, false) leave the default in place, exactly as the
// teacher's claude.LoadConfig merges a partial file over its own
// defaults. A missing file is not an error — it returns the defaults
// unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if file.StaleLockAge != 0 {
		cfg.StaleLockAge = file.StaleLockAge
	}
	if file.LockAttempts != 0 {
		cfg.LockAttempts = file.LockAttempts
	}
	if file.TokenTTL != 0 {
		cfg.TokenTTL = file.TokenTTL
	}
	if file.CASRetryAttempts != 0 {
		cfg.CASRetryAttempts = file.CASRetryAttempts
	}
	// DisableTempWorktree has no "unset" value distinct from false;
	// a file that sets it explicitly to true is the only meaningful
	// override, so it is applied unconditionally from the parsed
	// (zero-valued-by-default) file struct.
	cfg.DisableTempWorktree = cfg.DisableTempWorktree || file.DisableTempWorktree

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetTokenTTL sets TokenTTL, rejecting a non-positive duration
// immediately, per spec.md §8 ("TTL set to a non-positive value raises
// immediately").
func (c *Config) SetTokenTTL(d time.Duration) error {
	if d <= 0 {
		return errors.New("config: token TTL must be positive")
	}
	c.TokenTTL = d
	return nil
}

// Validate reports whether every field holds a usable value.
func (c *Config) Validate() error {
	if c.TokenTTL <= 0 {
		return errors.New("config: tokenTTL must be positive")
	}
	if c.StaleLockAge <= 0 {
		return errors.New("config: staleLockAge must be positive")
	}
	if c.LockAttempts <= 0 {
		return errors.New("config: lockAttempts must be positive")
	}
	if c.CASRetryAttempts <= 0 {
		return errors.New("config: casRetryAttempts must be positive")
	}
	return nil
}

// ExecOptions projects the subset of Config that [execctx.NewService]
// consumes.
func (c *Config) ExecOptions() execctx.Options {
	return execctx.Options{
		StaleLockAge:        c.StaleLockAge,
		LockAttempts:        c.LockAttempts,
		TokenTTL:            c.TokenTTL,
		DisableTempWorktree: c.DisableTempWorktree,
	}
}
