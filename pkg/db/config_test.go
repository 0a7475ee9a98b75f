package db

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database = "crm"
	cfg.Username = "crm"
	cfg.Password = "secret"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults plus credentials", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: "host"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "port"},
		{name: "missing database", mutate: func(c *Config) { c.Database = "" }, wantErr: "database name"},
		{name: "missing username", mutate: func(c *Config) { c.Username = "" }, wantErr: "username"},
		{name: "empty pool", mutate: func(c *Config) { c.MaxOpenConns = 0 }, wantErr: "max_open_conns"},
		{name: "idle above open", mutate: func(c *Config) { c.MaxIdleConns = 30 }, wantErr: "max_idle_conns"},
		{name: "old tls", mutate: func(c *Config) { c.SSL.MinVersion = "TLS1.0" }, wantErr: "min_version"},
		{
			name: "missing ca file",
			mutate: func(c *Config) {
				c.SSL.Enabled = true
				c.SSL.CAFile = "/nonexistent/ca.pem"
			},
			wantErr: "CA file",
		},
		{
			name: "cert without key",
			mutate: func(c *Config) {
				c.SSL.Enabled = true
				c.SSL.CertFile = "/nonexistent/client.pem"
			},
			wantErr: "TLS configuration",
		},
		{
			name: "skip verify ignores files",
			mutate: func(c *Config) {
				c.SSL.Enabled = true
				c.SSL.SkipVerify = true
				c.SSL.CAFile = "/nonexistent/ca.pem"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Host = "db.internal"
	cfg.Port = 3307

	dsn, err := cfg.GetDSN()
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "crm", parsed.DBName)
	assert.Equal(t, "crm", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.True(t, parsed.ClientFoundRows)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "utf8mb4_unicode_ci", parsed.Collation)
	assert.Equal(t, time.UTC, parsed.Loc)
	assert.Empty(t, parsed.TLSConfig)
}

func TestGetDSNSkipVerify(t *testing.T) {
	cfg := validConfig()
	cfg.SSL.Enabled = true
	cfg.SSL.SkipVerify = true

	dsn, err := cfg.GetDSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=skip-verify")
}

func TestGetDSNBadCA(t *testing.T) {
	cfg := validConfig()
	cfg.SSL.Enabled = true
	cfg.SSL.CAFile = "/nonexistent/ca.pem"

	_, err := cfg.GetDSN()
	assert.ErrorContains(t, err, "read CA file")
}

func TestTLSConfigNameIsStable(t *testing.T) {
	a := validConfig()
	a.SSL.CAFile = "/etc/ssl/ca.pem"
	b := validConfig()
	b.SSL.CAFile = "/etc/ssl/ca.pem"
	c := validConfig()
	c.SSL.CAFile = "/etc/ssl/other.pem"

	assert.Equal(t, a.generateTLSConfigName(), b.generateTLSConfigName())
	assert.NotEqual(t, a.generateTLSConfigName(), c.generateTLSConfigName())
	assert.Regexp(t, `^entity4go_tls_[0-9a-f]{16}$`, a.generateTLSConfigName())
}

func TestTLSVersion(t *testing.T) {
	v, err := tlsVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), v)

	v, err = tlsVersion("tls1_3")
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), v)

	_, err = tlsVersion("SSL3")
	assert.Error(t, err)
}

func TestParseLocation(t *testing.T) {
	assert.Equal(t, time.UTC, parseLocation(""))
	assert.Equal(t, time.UTC, parseLocation("Not/AZone"))
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, getLogLevel("DEBUG"))
	assert.Equal(t, logger.Warn, getLogLevel("warn"))
	assert.Equal(t, logger.Silent, getLogLevel("silent"))
	assert.Equal(t, logger.Error, getLogLevel("verbose"))
}
