// Package config assembles warden's runtime configuration. Process-level
// settings (addresses, backends, credentials) come from the environment;
// moderation behaviour (intervals, durations, permissions, messages) comes
// from an optional YAML file named by WARDEN_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pstrings "warden/pkg/platform/strings"
)

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the complete runtime configuration.
type Config struct {
	Server     Server
	Store      Store
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	Log        LogConfig
	ConfigFile string

	Moderation Moderation
}

// Server captures the ops HTTP listener.
type Server struct {
	Addr string
}

// Store selects where restriction tables are persisted.
type Store struct {
	Backend   string
	DataDir   string
	KeyPrefix string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN string
}

// KafkaConfig enables forwarding of audit events. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level  string
	Format string
}

// Moderation is the file-backed part of the configuration.
type Moderation struct {
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Review defaults for check and checkaddtime.
	ReviewDuration  time.Duration `yaml:"review_duration"`
	ReviewExtension time.Duration `yaml:"review_extension"`

	// Ban lengths applied when a review is escalated.
	CheckBan        time.Duration `yaml:"check_ban"`
	CheckBanReduced time.Duration `yaml:"check_ban_reduced"`
	TimeoutBan      time.Duration `yaml:"timeout_ban"`

	Permissions     Permissions `yaml:"permissions"`
	CommandDenylist []string    `yaml:"command_denylist"`

	Messages map[string]string   `yaml:"messages,omitempty"`
	Lines    map[string][]string `yaml:"lines,omitempty"`
}

// Permissions names the permission each command requires.
type Permissions struct {
	Kick    string `yaml:"kick"`
	Mute    string `yaml:"mute"`
	Ban     string `yaml:"ban"`
	Check   string `yaml:"check"`
	DupeIP  string `yaml:"dupeip"`
	BanInfo string `yaml:"baninfo"`
	Unban   string `yaml:"unban"`
	Chat    string `yaml:"chat"`
	Help    string `yaml:"help"`
}

// byCommand lists the permission nodes keyed by command family.
func (p Permissions) byCommand() map[string]string {
	return map[string]string{
		"kick":    p.Kick,
		"mute":    p.Mute,
		"ban":     p.Ban,
		"check":   p.Check,
		"dupeip":  p.DupeIP,
		"baninfo": p.BanInfo,
		"unban":   p.Unban,
		"chat":    p.Chat,
		"help":    p.Help,
	}
}

// Node returns the permission node for a command family such as "mute".
func (p Permissions) Node(command string) (string, bool) {
	node, ok := p.byCommand()[strings.ToLower(command)]
	return node, ok && node != ""
}

// All returns every configured node, sorted.
func (p Permissions) All() []string {
	nodes := make([]string, 0, 9)
	for _, node := range p.byCommand() {
		if node != "" {
			nodes = append(nodes, node)
		}
	}
	slices.Sort(nodes)
	return slices.Compact(nodes)
}

// DefaultModeration returns the built-in moderation settings.
func DefaultModeration() Moderation {
	return Moderation{
		SweepInterval:   time.Second,
		RefreshInterval: 2 * time.Second,
		ReviewDuration:  5 * time.Minute,
		ReviewExtension: 5 * time.Minute,
		CheckBan:        7 * 24 * time.Hour,
		CheckBanReduced: 4 * 24 * time.Hour,
		TimeoutBan:      7 * 24 * time.Hour,
		Permissions: Permissions{
			Kick:    "warden.kick",
			Mute:    "warden.mute",
			Ban:     "warden.ban",
			Check:   "warden.check",
			DupeIP:  "warden.dupeip",
			BanInfo: "warden.baninfo",
			Unban:   "warden.unban",
			Chat:    "warden.chat",
			Help:    "warden.help",
		},
		CommandDenylist: []string{"/tp", "/tpa", "/warp", "/home"},
	}
}

// FromEnv builds a Config from environment variables and built-in
// moderation defaults so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envOr("WARDEN_ADDR", ":9310"),
		},
		Store: Store{
			Backend:   strings.ToLower(envOr("WARDEN_STORE", BackendFile)),
			DataDir:   envOr("WARDEN_DATA_DIR", "./data"),
			KeyPrefix: envOr("WARDEN_REDIS_PREFIX", "warden:restrictions"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("WARDEN_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("WARDEN_POSTGRES_DSN"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("WARDEN_KAFKA_BROKERS")),
			Topic:   envOr("WARDEN_KAFKA_TOPIC", "warden.moderation"),
		},
		Log: LogConfig{
			Level:  envOr("WARDEN_LOG_LEVEL", "info"),
			Format: envOr("WARDEN_LOG_FORMAT", "text"),
		},
		ConfigFile: envOr("WARDEN_CONFIG", "warden.yml"),
		Moderation: DefaultModeration(),
	}
}

// Load reads the environment, overlays the moderation file when it exists,
// and validates the result.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Moderation.LoadFile(cfg.ConfigFile); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto m. Keys absent from the file
// keep their current values. A missing file is not an error.
func (m *Moderation) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Save writes m as YAML to path.
func (m Moderation) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendFile:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("WARDEN_DATA_DIR is required for the file store"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("WARDEN_REDIS_URL is required for the redis store"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("WARDEN_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("WARDEN_KAFKA_TOPIC is required when brokers are set"))
	}

	if err := c.Moderation.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the moderation durations.
func (m Moderation) Validate() error {
	var errs []error
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"sweep_interval", m.SweepInterval},
		{"refresh_interval", m.RefreshInterval},
		{"review_duration", m.ReviewDuration},
		{"review_extension", m.ReviewExtension},
		{"check_ban", m.CheckBan},
		{"check_ban_reduced", m.CheckBanReduced},
		{"timeout_ban", m.TimeoutBan},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	return pstrings.DedupeAndTrim(strings.Split(raw, ","))
}
