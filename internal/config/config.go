// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads jaild's own bootstrap configuration: where its
// control socket lives, how it logs, and which store and seed jails
// it starts with. The per-jail filter/action rules are a separate,
// jail-scoped concern (internal/jail) and are not parsed by this
// package.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"greywall.dev/jaild/internal/errors"
)

// CurrentSchemaVersion is bumped whenever a breaking change is made
// to the bootstrap config's HCL shape.
const CurrentSchemaVersion = "1.0"

// Config is jaild's top-level bootstrap configuration.
type Config struct {
	// Schema version for backward compatibility.
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// Unix socket path the transmitter listens on.
	// @default: "/var/run/jaild/jaild.sock"
	Socket string `hcl:"socket,optional" json:"socket,omitempty"`

	// Pidfile path. It is decoded and defaulted only; jaild does not
	// write or remove a pidfile.
	// @default: "/var/run/jaild/jaild.pid"
	PidFile string `hcl:"pidfile,optional" json:"pidfile,omitempty"`

	Logging *LoggingConfig `hcl:"logging,block" json:"logging,omitempty"`
	Store   *StoreConfig   `hcl:"store,block" json:"store,omitempty"`
	Metrics *MetricsConfig `hcl:"metrics,block" json:"metrics,omitempty"`
	HTTP    *HTTPConfig    `hcl:"http,block" json:"http,omitempty"`
	SSH     *SSHConfig     `hcl:"ssh,block" json:"ssh,omitempty"`

	// Value for the `allowipv6` global option ("auto", "yes" or "no").
	// It is validated at load only; the server's setting starts as
	// "auto" and is changed only over the control socket.
	// @default: "auto"
	// @enum: "auto", "yes", "no"
	AllowIPv6 string `hcl:"allow_ipv6,optional" json:"allow_ipv6,omitempty"`

	// DNS names/CIDRs for a daemon-wide ignore list. The list is decoded
	// only: no jail's ignore list is seeded from it, so it does not
	// affect banning.
	IgnoreIP []string `hcl:"ignore_ip,optional" json:"ignore_ip,omitempty"`

	// Jails to start immediately at boot, before the control socket
	// accepts `start <jail>` commands.
	SeedJails []SeedJail `hcl:"jail,block" json:"jail,omitempty"`
}

// LoggingConfig configures the daemon-wide logger (internal/logging).
type LoggingConfig struct {
	// @enum: "CRITICAL", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG", "TRACEDEBUG", "HEAVYDEBUG"
	// @default: "INFO"
	Level string `hcl:"level,optional" json:"level,omitempty"`

	// @enum: "STDOUT", "STDERR", "SYSLOG", "SYSTEMD-JOURNAL", or a file path
	// @default: "STDERR"
	Target string `hcl:"target,optional" json:"target,omitempty"`

	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig mirrors logging.SyslogConfig in HCL-decodable form.
type SyslogConfig struct {
	Host     string `hcl:"host,optional" json:"host,omitempty"`
	Port     int    `hcl:"port,optional" json:"port,omitempty"`
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	Tag      string `hcl:"tag,optional" json:"tag,omitempty"`
	Facility int    `hcl:"facility,optional" json:"facility,omitempty"`
}

// StoreConfig configures the optional SQLite persistence layer
// (internal/store). A nil Store means bans live in memory only.
type StoreConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`

	// @default: "/var/lib/jaild/jaild.db"
	Path string `hcl:"path,optional" json:"path,omitempty"`

	// Ban rows recorded more than this many days ago are deleted when
	// jaild exits. 0 disables purging.
	// @default: 0
	PurgeAfterDays int `hcl:"purge_after_days,optional" json:"purge_after_days,omitempty"`
}

// MetricsConfig exposes the Prometheus collector over HTTP.
type MetricsConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: "127.0.0.1:9191"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// HTTPConfig exposes the read-only status API (internal/httpapi).
type HTTPConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: "127.0.0.1:9190"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// SSHConfig exposes the read-only TUI dashboard over SSH.
type SSHConfig struct {
	// @default: false
	Enabled    bool     `hcl:"enabled,optional" json:"enabled,omitempty"`
	Listen     string   `hcl:"listen,optional" json:"listen,omitempty"`
	HostKeyPath string  `hcl:"host_key_path,optional" json:"host_key_path,omitempty"`
	AuthorizedKeys []string `hcl:"authorized_keys,optional" json:"authorized_keys,omitempty"`
}

// SeedJail declares a jail to be created and started at boot. Filter
// and action refinement beyond this (additional failregex/ignoreregex,
// action kwargs) is left to `set <jail> ...` calls issued over the
// control socket after boot, matching spec.md's treatment of
// filter.d/jail.conf authoring as an external collaborator.
type SeedJail struct {
	Name   string `hcl:"name,label" json:"name"`
	Filter string `hcl:"filter,optional" json:"filter,omitempty"`
	LogPath string `hcl:"logpath,optional" json:"logpath,omitempty"`

	// FailRegex seeds the filter's initial rule set.
	FailRegex []string `hcl:"failregex,optional" json:"failregex,omitempty"`

	// @default: 5
	MaxRetry int `hcl:"maxretry,optional" json:"maxretry,omitempty"`
	// Seconds. @default: 600
	FindTime int `hcl:"findtime,optional" json:"findtime,omitempty"`
	// Seconds. @default: 600
	BanTime int `hcl:"bantime,optional" json:"bantime,omitempty"`

	// Name given to the built-in iptables chain action the jail is
	// seeded with; the value is not parsed. Empty seeds no action: bans
	// are still recorded, but no command runs.
	BanAction string `hcl:"banaction,optional" json:"banaction,omitempty"`

	// Increment configures bantime.increment escalation for repeat
	// offenders. Absent means escalation is disabled and every ban
	// uses BanTime unmodified.
	Increment *BanTimeIncrementConfig `hcl:"increment,block" json:"increment,omitempty"`
}

// BanTimeIncrementConfig mirrors fail2ban's bantime.increment family of
// jail options (bantime.increment/multipliers/factor/formula/rndtime/
// maxtime/overalljails).
type BanTimeIncrementConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`

	// Positional ban-time multipliers by offense count (1st, 2nd,
	// 3rd ban, ...); the last value repeats for any further offense.
	// Mutually exclusive with Formula; Multipliers wins if both are set.
	// @default: [1, 2, 4, 8, 16, 32, 64]
	Multipliers []int64 `hcl:"multipliers,optional" json:"multipliers,omitempty"`

	// Use the exponential formula (BanTime * exp(count*Factor) /
	// exp(Factor)) instead of Multipliers.
	// @default: false
	Formula bool `hcl:"formula,optional" json:"formula,omitempty"`

	// Growth rate for the exponential formula.
	// @default: 0
	Factor float64 `hcl:"factor,optional" json:"factor,omitempty"`

	// Seconds of uniform random jitter added to the escalated ban
	// time, so synchronized offenders don't all unban at once.
	// @default: 0
	RandTime int `hcl:"rndtime,optional" json:"rndtime,omitempty"`

	// Seconds. Upper bound on the escalated ban time. 0 = unbounded.
	// @default: 0
	MaxTime int64 `hcl:"maxtime,optional" json:"maxtime,omitempty"`

	// Count offenses against this id across every jail that also sets
	// overalljails=true, instead of scoping the count to this jail.
	// @default: false
	OverallJails bool `hcl:"overalljails,optional" json:"overalljails,omitempty"`
}

// Default returns jaild's out-of-the-box bootstrap configuration.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Socket:        "/var/run/jaild/jaild.sock",
		PidFile:       "/var/run/jaild/jaild.pid",
		AllowIPv6:     "auto",
		Logging: &LoggingConfig{
			Level:  "INFO",
			Target: "STDERR",
		},
	}
}

// Load reads and decodes the HCL bootstrap config at path, filling in
// defaults for anything left unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "failed to decode config")
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadBytes decodes raw HCL bytes, for use in tests and the bootstrap
// smoke path where a config doesn't come from a file on disk.
func LoadBytes(filename string, data []byte) (*Config, error) {
	cfg := Default()
	if err := hclsimple.Decode(filename, data, nil, cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "failed to decode config")
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = CurrentSchemaVersion
	}
	if cfg.Socket == "" {
		cfg.Socket = "/var/run/jaild/jaild.sock"
	}
	if cfg.PidFile == "" {
		cfg.PidFile = "/var/run/jaild/jaild.pid"
	}
	if cfg.AllowIPv6 == "" {
		cfg.AllowIPv6 = "auto"
	}
	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{Level: "INFO", Target: "STDERR"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Target == "" {
		cfg.Logging.Target = "STDERR"
	}
	if cfg.Store != nil && cfg.Store.Path == "" {
		cfg.Store.Path = "/var/lib/jaild/jaild.db"
	}
	if cfg.Metrics != nil && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9191"
	}
	if cfg.HTTP != nil && cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = "127.0.0.1:9190"
	}
	for i := range cfg.SeedJails {
		j := &cfg.SeedJails[i]
		if j.MaxRetry == 0 {
			j.MaxRetry = 5
		}
		if j.FindTime == 0 {
			j.FindTime = 600
		}
		if j.BanTime == 0 {
			j.BanTime = 600
		}
		if j.Increment != nil && j.Increment.Enabled && !j.Increment.Formula && len(j.Increment.Multipliers) == 0 {
			j.Increment.Multipliers = []int64{1, 2, 4, 8, 16, 32, 64}
		}
	}
}

// Validate reports configuration errors that hclsimple's decoder
// can't catch on its own (cross-field and range checks).
func Validate(cfg *Config) error {
	switch cfg.AllowIPv6 {
	case "auto", "yes", "no":
	default:
		return errors.Errorf(errors.KindInvalidArgument, "allow_ipv6 must be auto, yes, or no, got %q", cfg.AllowIPv6)
	}
	if cfg.Socket == "" {
		return errors.New(errors.KindInvalidArgument, "socket path must not be empty")
	}
	if cfg.Store != nil && cfg.Store.Enabled && cfg.Store.Path == "" {
		return errors.New(errors.KindInvalidArgument, "store.path is required when store.enabled is true")
	}
	for _, j := range cfg.SeedJails {
		if j.Name == "" {
			return errors.New(errors.KindInvalidArgument, "jail block requires a name label")
		}
	}
	return nil
}
