package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "secretKey", c.SecretKey)
	assert.Equal(t, 24*time.Hour, c.TokenValidity)
	assert.False(t, c.Seed)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"addr":":9999","token_validity":"1h","seed":true}`), 0o600))

	tests := []struct {
		name    string
		args    []string
		want    *Config
		wantErr bool
	}{
		{
			name: "defaults",
			want: &Config{Addr: ":8080", SecretKey: "secretKey", TokenValidity: 24 * time.Hour, LogLevel: "info", LogBackend: "slog"},
		},
		{
			name: "json then flags",
			args: []string{"-c", path, "-s", "s3cr3t", "-t", "5", "-b", "zap"},
			want: &Config{Addr: ":9999", SecretKey: "s3cr3t", TokenValidity: 5 * time.Minute, Seed: true, LogLevel: "info", LogBackend: "zap"},
		},
		{
			name: "seed switch",
			args: []string{"-seed", "-a", ":1"},
			want: &Config{Addr: ":1", SecretKey: "secretKey", TokenValidity: 24 * time.Hour, Seed: true, LogLevel: "info", LogBackend: "slog"},
		},
		{name: "bad validity", args: []string{"-t", "soon"}, wantErr: true},
		{name: "missing file", args: []string{"-c", filepath.Join(t.TempDir(), "nope.json")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.want, cfg))
		})
	}
}
