package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Active)
	assert.Empty(t, cfg.FilterAcceptList)
	assert.Equal(t, PhyM1, cfg.PHYs)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, time.Second, cfg.Window)
	assert.Zero(t, cfg.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "coded phy", mutate: func(c *Config) { c.PHYs = PhyM1Coded }},
		{name: "no phy", mutate: func(c *Config) { c.PHYs = 0 }, wantErr: true},
		{name: "unknown phy", mutate: func(c *Config) { c.PHYs = 8 }, wantErr: true},
		{name: "interval too short", mutate: func(c *Config) {
			c.Interval = time.Millisecond
			c.Window = time.Millisecond
		}, wantErr: true},
		{name: "interval too long", mutate: func(c *Config) { c.Interval = time.Minute }, wantErr: true},
		{name: "window exceeds interval", mutate: func(c *Config) { c.Window = 2 * time.Second }, wantErr: true},
		{name: "minimum interval", mutate: func(c *Config) {
			c.Interval = MinScanInterval
			c.Window = MinScanInterval
		}},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPhySet(t *testing.T) {
	assert.True(t, PhyM1M2Coded.Has(PhyCoded))
	assert.True(t, PhyM1M2.Has(PhyM2))
	assert.False(t, PhyM1.Has(PhyM2))
	assert.Equal(t, "1M+Coded", PhyM1Coded.String())
	assert.Equal(t, "PhySet(9)", PhySet(9).String())
}

func TestFilterAcceptList(t *testing.T) {
	addr, err := ParseAddr("11:22:33:44:55:66")
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr)

	cfg := DefaultConfig()
	assert.True(t, cfg.Accepts(AddrPublic, Addr{}))

	cfg.FilterAcceptList = []FilterEntry{{Kind: AddrRandom, Addr: addr}}
	assert.True(t, cfg.Accepts(AddrRandom, addr))
	assert.False(t, cfg.Accepts(AddrPublic, addr))
	assert.False(t, cfg.Accepts(AddrRandom, Addr{}))

	_, err = ParseAddr("not an address")
	assert.ErrorIs(t, err, ErrInvalidValue)
}
