package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INTERNAL_API_KEY", "k3y")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")

	cfg, err := Load()

	req.NoError(err)
	req.Equal(":8080", cfg.Addr)
	req.Equal("/hubs", cfg.RealtimePathPrefix)
	req.Equal(5*time.Second, cfg.PersistTimeout)
	req.Equal(2000, cfg.MaxMessageLength)
	req.True(cfg.DBAutoMigrate)
	req.Equal([]string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("INTERNAL_API_KEY", "")

	_, err := Load()

	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveMessageLength(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("INTERNAL_API_KEY", "k3y")
	t.Setenv("MAX_MESSAGE_LENGTH", "0")

	_, err := Load()

	require.Error(t, err)
}
