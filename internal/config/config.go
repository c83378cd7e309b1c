// Package config loads boot configuration from three layers, lowest to
// highest precedence: a TOML file, MICROVISOR__-prefixed environment
// variables, and CLI flags. Grounded on the teacher's
// internal/util/config.go (ConfigStore's three-layer merge), generalized
// from the slug interpreter's module/argv options to the microvisor's
// boot parameters: where the initramfs lives, which escalation policy to
// run, and where the audit trail should be written.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"microvisor/internal/capstore"
)

// Config is the fully resolved boot configuration.
type Config struct {
	InitramfsPath    string
	EscalationPolicy string // "grant-all" (default) or "deny"
	AuditDSN         string // e.g. "sqlite:///var/lib/microvisor/audit.db" or "mysql://..."
	LogLevel         string
	Agents           []AgentConfig
}

// AgentConfig names an agent (by the initramfs file stem Start launches it
// from, e.g. "worker" for "worker.wasm") and the capabilities it should
// hold the instant it is spawned, before it ever calls request_capability.
// Grounded on the teacher's cmd/app/micro.go, which wires each actor's
// capabilities explicitly at boot rather than leaving it to the actor to
// escalate for everything.
type AgentConfig struct {
	Name   string
	Grants []GrantConfig
}

// GrantConfig is one TOML-representable capability grant. Kind selects
// which capstore constructor applies; only the fields that constructor
// needs are read, the rest are ignored.
type GrantConfig struct {
	Kind string // "memory", "interrupt", "port", "process", "spawn", "network", "filesystem"

	Base        uint64 // memory
	Size        uint64 // memory
	Read        bool   // memory, filesystem
	Write       bool   // memory, filesystem
	Execute     bool   // memory
	IRQ         uint8  // interrupt
	Port        uint16 // port
	Pid         int64  // process
	CanSend     bool   // process
	CanReceive  bool   // process
	MaxChildren int    // spawn
	PathPrefix  string // filesystem
}

// Capability builds the capstore.Capability this grant describes. The
// second return value is false for an unrecognized Kind.
func (g GrantConfig) Capability() (capstore.Capability, bool) {
	switch g.Kind {
	case "memory":
		return capstore.Memory(g.Base, g.Size, g.Read, g.Write, g.Execute), true
	case "interrupt":
		return capstore.Interrupt(g.IRQ), true
	case "port":
		return capstore.Port(g.Port), true
	case "process":
		return capstore.Process(g.Pid, g.CanSend, g.CanReceive), true
	case "spawn":
		return capstore.Spawn(g.MaxChildren), true
	case "network":
		return capstore.Network(), true
	case "filesystem":
		return capstore.FileSystem(g.PathPrefix, g.Read, g.Write), true
	default:
		return capstore.Capability{}, false
	}
}

// fileLayer mirrors the subset of Config a TOML file may set.
type fileLayer struct {
	Initramfs struct {
		Path string `toml:"path"`
	} `toml:"initramfs"`
	Escalation struct {
		Policy string `toml:"policy"`
	} `toml:"escalation"`
	Audit struct {
		DSN string `toml:"dsn"`
	} `toml:"audit"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Agents []struct {
		Name   string `toml:"name"`
		Grants []struct {
			Kind        string `toml:"kind"`
			Base        uint64 `toml:"base"`
			Size        uint64 `toml:"size"`
			Read        bool   `toml:"read"`
			Write       bool   `toml:"write"`
			Execute     bool   `toml:"execute"`
			IRQ         uint8  `toml:"irq"`
			Port        uint16 `toml:"port"`
			Pid         int64  `toml:"pid"`
			CanSend     bool   `toml:"can_send"`
			CanReceive  bool   `toml:"can_receive"`
			MaxChildren int    `toml:"max_children"`
			PathPrefix  string `toml:"path_prefix"`
		} `toml:"grants"`
	} `toml:"agents"`
}

// Defaults returns the zero-config boot configuration: an in-tree
// initramfs, the grant-all escalation policy (matching the reference
// kernel), a local sqlite audit file, and info-level logging.
func Defaults() Config {
	return Config{
		InitramfsPath:    "initramfs.tar",
		EscalationPolicy: "grant-all",
		AuditDSN:         "sqlite://microvisor-audit.db",
		LogLevel:         "info",
	}
}

// Load resolves configuration in three layers: tomlPath (if non-empty and
// present on disk), then MICROVISOR__-prefixed environment variables, then
// argv (parsed as CLI flags, which a caller typically sets to
// os.Args[1:]). Each layer only overrides fields it actually sets.
func Load(tomlPath string, argv []string) (Config, error) {
	cfg := Defaults()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			var fl fileLayer
			if _, err := toml.DecodeFile(tomlPath, &fl); err != nil {
				return cfg, err
			}
			applyFileLayer(&cfg, fl)
		}
	}

	applyEnvLayer(&cfg)

	if err := applyFlagLayer(&cfg, argv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileLayer(cfg *Config, fl fileLayer) {
	if fl.Initramfs.Path != "" {
		cfg.InitramfsPath = fl.Initramfs.Path
	}
	if fl.Escalation.Policy != "" {
		cfg.EscalationPolicy = fl.Escalation.Policy
	}
	if fl.Audit.DSN != "" {
		cfg.AuditDSN = fl.Audit.DSN
	}
	if fl.Log.Level != "" {
		cfg.LogLevel = fl.Log.Level
	}
	if len(fl.Agents) > 0 {
		cfg.Agents = make([]AgentConfig, len(fl.Agents))
		for i, a := range fl.Agents {
			grants := make([]GrantConfig, len(a.Grants))
			for j, g := range a.Grants {
				grants[j] = GrantConfig{
					Kind: g.Kind, Base: g.Base, Size: g.Size, Read: g.Read, Write: g.Write,
					Execute: g.Execute, IRQ: g.IRQ, Port: g.Port, Pid: g.Pid,
					CanSend: g.CanSend, CanReceive: g.CanReceive,
					MaxChildren: g.MaxChildren, PathPrefix: g.PathPrefix,
				}
			}
			cfg.Agents[i] = AgentConfig{Name: a.Name, Grants: grants}
		}
	}
}

// AgentGrants looks up the configured grants for an agent by name, or nil
// if none are configured (the common case: agents start with an empty bag
// and escalate for everything via request_capability).
func (c Config) AgentGrants(name string) []GrantConfig {
	for _, a := range c.Agents {
		if a.Name == name {
			return a.Grants
		}
	}
	return nil
}

// applyEnvLayer reads MICROVISOR__INITRAMFS_PATH, MICROVISOR__ESCALATION_POLICY,
// MICROVISOR__AUDIT_DSN, and MICROVISOR__LOG_LEVEL, matching the teacher's
// SLUG__ prefix convention.
func applyEnvLayer(cfg *Config) {
	const prefix = "MICROVISOR__"
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimPrefix(pair[0], prefix)
		switch key {
		case "INITRAMFS_PATH":
			cfg.InitramfsPath = pair[1]
		case "ESCALATION_POLICY":
			cfg.EscalationPolicy = pair[1]
		case "AUDIT_DSN":
			cfg.AuditDSN = pair[1]
		case "LOG_LEVEL":
			cfg.LogLevel = pair[1]
		}
	}
}

func applyFlagLayer(cfg *Config, argv []string) error {
	fs := flag.NewFlagSet("microvisor", flag.ContinueOnError)
	initramfs := fs.String("initramfs", cfg.InitramfsPath, "path to the USTAR initramfs archive")
	policy := fs.String("escalation-policy", cfg.EscalationPolicy, "escalation policy: grant-all or deny")
	dsn := fs.String("audit-dsn", cfg.AuditDSN, "audit sink DSN, sqlite://path or mysql://dsn")
	level := fs.String("log-level", cfg.LogLevel, "slog level: debug, info, warn, or error")

	if err := fs.Parse(argv); err != nil {
		return err
	}
	cfg.InitramfsPath = *initramfs
	cfg.EscalationPolicy = *policy
	cfg.AuditDSN = *dsn
	cfg.LogLevel = *level
	return nil
}

// BaseName strips directory components, used when logging which
// initramfs is in effect without leaking the full host path.
func BaseName(path string) string {
	return filepath.Base(path)
}
