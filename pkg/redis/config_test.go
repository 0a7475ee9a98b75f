package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.Host = "" }},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: "host"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: "port"},
		{name: "zero ttl", mutate: func(c *Config) { c.DefaultTTL = 0 }, wantErr: "default_ttl"},
		{name: "negative count ttl", mutate: func(c *Config) { c.CountTTL = -time.Second }, wantErr: "count_ttl"},
		{name: "empty pool", mutate: func(c *Config) { c.PoolSize = 0 }, wantErr: "pool_size"},
		{name: "glob in prefix", mutate: func(c *Config) { c.KeyPrefix = "crm*" }, wantErr: "key_prefix"},
		{name: "separator in namespace", mutate: func(c *Config) { c.Namespace = "eu:west" }, wantErr: "namespace"},
		{
			name:    "cluster without addresses",
			mutate:  func(c *Config) { c.Cluster.Enabled = true },
			wantErr: "cluster addresses",
		},
		{
			name: "cluster ignores host",
			mutate: func(c *Config) {
				c.Cluster = ClusterConfig{Enabled: true, Addresses: []string{"r1:6379", "r2:6379"}}
				c.Host = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
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

func TestInvalidKeyPartIsTyped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace = "a[b]"
	assert.True(t, IsInvalidKey(cfg.Validate()))
}

func TestCountTTLFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.countTTL())
	cfg.CountTTL = 0
	assert.Equal(t, time.Hour, cfg.countTTL())
}

func TestGetAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache.internal"
	cfg.Port = 6380
	assert.Equal(t, "cache.internal:6380", cfg.GetAddr())
}
