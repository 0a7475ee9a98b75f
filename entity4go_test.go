package entity4go

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/db"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database.Database = "crm"
	cfg.Database.Username = "crm"
	cfg.Engine.EncryptionKey = testKey
	return cfg
}

func TestDefaultConfigNeedsCredentialsAndKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Redis.Enabled)
	assert.ErrorContains(t, cfg.Validate(), "database")

	cfg.Database.Database = "crm"
	cfg.Database.Username = "crm"
	assert.ErrorContains(t, cfg.Validate(), "encryption_key is required")

	cfg.Engine.EncryptionKey = testKey
	assert.NoError(t, cfg.Validate())
}

func TestEncryptionKeyLength(t *testing.T) {
	tests := []struct {
		key     string
		wantErr string
	}{
		{key: testKey[:32]},
		{key: testKey[:48]},
		{key: testKey},
		{key: testKey[:30], wantErr: "got 15"},
		{key: "not-hex", wantErr: "hex"},
	}
	for _, tt := range tests {
		_, err := EngineConfig{EncryptionKey: tt.key}.key()
		if tt.wantErr == "" {
			assert.NoError(t, err, tt.key)
		} else {
			assert.ErrorContains(t, err, tt.wantErr, tt.key)
		}
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	level, err = parseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = parseLevel("chatty")
	assert.Error(t, err)

	cfg := validConfig()
	cfg.Engine.LogLevel = "chatty"
	assert.ErrorContains(t, cfg.Validate(), "log_level")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENTITY4GO_TEST_DB_PASSWORD", "s3cret")
	path := filepath.Join(t.TempDir(), "entity4go.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(`
database:
  host: db.internal
  database: crm
  username: app
  password: ${ENTITY4GO_TEST_DB_PASSWORD}
  query_timeout: 45s
redis:
  enabled: true
  namespace: eu
  count_ttl: 2m
engine:
  encryption_key: `+testKey+`
  max_page_size: 500
  log_level: warn
`)), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port, "defaults survive")
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 45*time.Second, cfg.Database.QueryTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "eu", cfg.Redis.Namespace)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CountTTL)
	assert.Equal(t, time.Hour, cfg.Redis.DefaultTTL)
	assert.Equal(t, 500, cfg.Engine.MaxPageSize)
	assert.Equal(t, "warn", cfg.Engine.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unterminated"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "parse config")
}

// lazyManager opens a GORM handle that never dials until used
func lazyManager(t *testing.T, cfg *db.Config) *db.Manager {
	t.Helper()
	dsn, err := cfg.GetDSN()
	require.NoError(t, err)
	gdb, err := gorm.Open(mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: true}),
		&gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return db.NewManagerWithDB(cfg, gdb)
}

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenWithLocalCache(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.LocalCacheSize = 100

	s, err := OpenWithManager(context.Background(), cfg, lazyManager(t, &cfg.Database), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Engine)
	assert.NotNil(t, s.CRM)
	assert.NotNil(t, s.local)
	assert.Nil(t, s.Redis())

	cols, err := s.Collectors()
	require.NoError(t, err)
	assert.Len(t, cols, 1)

	contact, err := s.Engine.New(crm.TypeContact, map[string]any{"firstName": "Ada"})
	require.NoError(t, err)
	assert.True(t, contact.IsNew())
}

func TestOpenWithRedisCache(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Enabled = true
	cfg.Engine.LocalCacheSize = 100

	s, err := OpenWithManager(context.Background(), cfg, lazyManager(t, &cfg.Database), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Redis())
	assert.Nil(t, s.local, "redis takes precedence")
	cols, err := s.Collectors()
	require.NoError(t, err)
	assert.Len(t, cols, 2)
}

func TestOpenWithManagerRejectsMissingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.EncryptionKey = ""
	_, err := OpenWithManager(context.Background(), cfg, lazyManager(t, &cfg.Database))
	assert.ErrorContains(t, err, "encryption_key")
}

func TestPingReportsUnreachableDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 1

	s, err := OpenWithManager(context.Background(), cfg, lazyManager(t, &cfg.Database), quietLogger())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorContains(t, s.Ping(ctx), "database")
}
