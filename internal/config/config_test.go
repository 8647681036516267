package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKEND", "")
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendHTTP, cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Business.TickInterval)
	assert.Equal(t, 20, cfg.Business.NearLimitPercent)
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.True(t, cfg.Business.Tax().IsZero())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_BusinessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "business.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
business_name: Kiwari Centro
timezone: America/Lima
tax_rate: "0.18"
tick_interval: 15s
near_limit_percent: 25
board_states: [in_kitchen, ready]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TIMEZONE", "")
	t.Setenv("BACKEND", BackendPostgres)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Kiwari Centro", cfg.Business.Name)
	assert.Equal(t, "America/Lima", cfg.Location.String())
	assert.True(t, cfg.Business.Tax().Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, 15*time.Second, cfg.Business.TickInterval)
	assert.Equal(t, 25, cfg.Business.NearLimitPercent)
	// unset keys keep their defaults
	assert.Equal(t, 10, cfg.Business.NearScheduledMin)
	assert.Equal(t, "ORD", cfg.Business.OrderPrefix)
	assert.Equal(t, []string{"in_kitchen", "ready"}, cfg.Business.BoardStates)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"BACKEND": "grpc"}},
		{"bad timeout", map[string]string{"BACKEND_TIMEOUT": "soon"}},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"missing file", map[string]string{"CONFIG_FILE": "/nonexistent/business.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BACKEND", "")
			t.Setenv("BACKEND_TIMEOUT", "")
			t.Setenv("TIMEZONE", "UTC")
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_Windows(t *testing.T) {
	cfg := &Config{Backend: BackendHTTP, BackendURL: "http://x", Business: defaultBusiness()}
	cfg.Business.Timezone = "UTC"
	require.NoError(t, cfg.validate())

	cfg.Business.NearScheduledMin = 20
	assert.Error(t, cfg.validate())

	cfg.Business = defaultBusiness()
	cfg.Business.TaxRate = "abc"
	assert.Error(t, cfg.validate())
}
