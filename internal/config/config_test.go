package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Addr)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Seed)
	assert.Empty(t, cfg.Digest.Schedule)
	assert.Equal(t, 3, cfg.Digest.Top)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("storage:\n  driver: memory\nseed: true\n"))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Seed)
	assert.Equal(t, "/api", cfg.Server.BasePath)

	cfg, err = FromYAML([]byte("digest:\n  schedule: \"0 9 * * 1-5\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1-5", cfg.Digest.Schedule)
	assert.Equal(t, 3, cfg.Digest.Top)
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":    "storage:\n  driver: postgres\n",
		"base path": "server:\n  base_path: api\n",
		"level":     "log:\n  level: loud\n",
		"syntax":    "server: [",
		"schedule":  "digest:\n  schedule: every morning\n",
		"top":       "digest:\n  top: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestWriteRoundTripAndRefuseOverwrite(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Seed = true
	path, err := Write(dir, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Seed)

	_, err = Write(dir, cfg, false)
	assert.Error(t, err)
	_, err = Write(dir, cfg, true)
	assert.NoError(t, err)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}
