package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"WARDEN_ADDR", "WARDEN_STORE", "WARDEN_DATA_DIR", "WARDEN_KAFKA_BROKERS", "WARDEN_KAFKA_TOPIC", "WARDEN_CONFIG"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":9310", cfg.Server.Addr)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "./data", cfg.Store.DataDir)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "warden.moderation", cfg.Kafka.Topic)
	assert.Equal(t, "warden.yml", cfg.ConfigFile)
	assert.Equal(t, time.Second, cfg.Moderation.SweepInterval)
	assert.Equal(t, 2*time.Second, cfg.Moderation.RefreshInterval)
	assert.Equal(t, 168*time.Hour, cfg.Moderation.CheckBan)
	assert.Equal(t, 96*time.Hour, cfg.Moderation.CheckBanReduced)
	assert.Equal(t, "warden.check", cfg.Moderation.Permissions.Check)
	assert.Equal(t, []string{"/tp", "/tpa", "/warp", "/home"}, cfg.Moderation.CommandDenylist)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WARDEN_STORE", "Redis")
	t.Setenv("WARDEN_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WARDEN_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg := FromEnv()
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.NoError(t, cfg.Validate())
}

func TestModeration_SaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "warden.yml")

	m := DefaultModeration()
	m.ReviewDuration = 10 * time.Minute
	m.Permissions.Ban = "staff.ban"
	m.Messages = map[string]string{"ban-kick": "Banned: %reason%"}
	require.NoError(t, m.Save(path))

	loaded := DefaultModeration()
	require.NoError(t, loaded.LoadFile(path))
	assert.Equal(t, 10*time.Minute, loaded.ReviewDuration)
	assert.Equal(t, "staff.ban", loaded.Permissions.Ban)
	assert.Equal(t, "Banned: %reason%", loaded.Messages["ban-kick"])
}

func TestModeration_LoadFilePartialOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yml")
	require.NoError(t, os.WriteFile(path, []byte("review_duration: 3m\ncommand_denylist: [\"/spawn\"]\n"), 0o644))

	m := DefaultModeration()
	require.NoError(t, m.LoadFile(path))
	assert.Equal(t, 3*time.Minute, m.ReviewDuration)
	assert.Equal(t, []string{"/spawn"}, m.CommandDenylist)
	assert.Equal(t, 5*time.Minute, m.ReviewExtension)
	assert.Equal(t, "warden.kick", m.Permissions.Kick)
}

func TestModeration_LoadFileMissingOrBroken(t *testing.T) {
	m := DefaultModeration()
	assert.NoError(t, m.LoadFile(filepath.Join(t.TempDir(), "absent.yml")))

	path := filepath.Join(t.TempDir(), "broken.yml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_interval: [oops\n"), 0o644))
	assert.Error(t, m.LoadFile(path))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "etcd" }},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Backend = BackendRedis; c.Redis.URL = "" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = BackendPostgres; c.Postgres.DSN = "" }},
		{name: "kafka without topic", mutate: func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }},
		{name: "zero interval", mutate: func(c *Config) { c.Moderation.SweepInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Store:      Store{Backend: BackendFile, DataDir: "./data"},
				Kafka:      KafkaConfig{Topic: "warden.moderation"},
				Moderation: DefaultModeration(),
			}
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestPermissions_NodeAndAll(t *testing.T) {
	perms := DefaultModeration().Permissions

	node, ok := perms.Node("Mute")
	require.True(t, ok)
	assert.Equal(t, "warden.mute", node)

	_, ok = perms.Node("fly")
	assert.False(t, ok)

	perms.Chat = ""
	_, ok = perms.Node("chat")
	assert.False(t, ok)

	perms.Unban = perms.Ban
	all := perms.All()
	assert.Len(t, all, 7)
	assert.IsIncreasing(t, all)
}
