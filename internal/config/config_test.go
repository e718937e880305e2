package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/isseis/go-gitup-guard/internal/config"
	"github.com/isseis/go-gitup-guard/internal/guardtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, guardtypes.LevelModerate, cfg.SecurityLevel())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeConfig(t, `
[scan]
workers = 8

[policy]
default_level = "strict"

[[scan.custom_rules]]
name = "terraform state"
category = "sensitive_config"
names = ["*.tfstate"]
`)
	cfg, err := config.Load(p, noEnv)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scan.Workers)
	assert.Equal(t, int64(1<<20), cfg.Scan.MaxContentBytes)
	assert.Equal(t, guardtypes.LevelStrict, cfg.SecurityLevel())
	require.Len(t, cfg.Scan.CustomRules, 1)
	assert.Equal(t, []string{"*.tfstate"}, cfg.Scan.CustomRules[0].Names)
}

func TestLoad_EnvOverrides(t *testing.T) {
	env := map[string]string{
		config.EnvLogLevel:      "DEBUG",
		config.EnvSecurityLevel: "relaxed",
	}
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, guardtypes.LevelRelaxed, cfg.SecurityLevel())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "syntax", content: "[scan\nworkers = 1", wantErr: config.ErrParseConfig},
		{name: "unknown key", content: "[scan]\nwrokers = 2", wantErr: config.ErrParseConfig},
		{name: "bad level", content: "[policy]\ndefault_level = \"paranoid\"", wantErr: config.ErrInvalidConfig},
		{name: "zero workers", content: "[scan]\nworkers = 0", wantErr: config.ErrInvalidConfig},
		{name: "large below content ceiling", content: "[scan]\nlarge_file_bytes = 2048", wantErr: config.ErrInvalidConfig},
		{name: "unknown custom category", content: "[[scan.custom_rules]]\nname = \"x\"\ncategory = \"nope\"", wantErr: config.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content), noEnv)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := config.Default().Encode()
	require.NoError(t, err)
	cfg, err := config.Load(writeConfig(t, string(data)), noEnv)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
