package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Room.MaxPlayers)
	assert.Equal(t, 5*time.Minute, cfg.Room.StalenessThreshold)
	assert.Equal(t, 5*time.Second, cfg.Room.DisconnectAfter)
	assert.Equal(t, 60*time.Second, cfg.Room.BootAfter)
	assert.Equal(t, 5, cfg.Room.CountdownSeconds)
	assert.Equal(t, 30*time.Minute, cfg.Room.IdleRoomTTL)
	assert.Equal(t, "postgres", cfg.DB.Driver)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("db:\n  driver: memory\nroom:\n  boot_after: 90s\n  countdown_seconds: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	t.Setenv("JKBOX_ROOM_ADMIN_SUFFIX", "!")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, 90*time.Second, cfg.Room.BootAfter)
	assert.Equal(t, 3, cfg.Room.CountdownSeconds)
	assert.Equal(t, "!", cfg.Room.AdminSuffix)
}
