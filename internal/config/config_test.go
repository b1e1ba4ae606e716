package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"GUPPI_AGENT_NAME", "GUPPI_REDIS_ADDR", "GUPPI_GOVERNOR_LIMIT", "GUPPI_GOVERNOR_WINDOW_SECONDS",
	} {
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "a1", cfg.AgentName)
	require.Equal(t, "127.0.0.1:6379", cfg.Bus.Addr)
	require.Equal(t, 15, cfg.Governor.Limit)
	require.Equal(t, 300*time.Second, cfg.Governor.Window)
	require.Equal(t, 4, cfg.Exec.MaxConcurrentProcs)
	require.Equal(t, "./.agent-identity", cfg.Paths.IdentityFile)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("GUPPI_AGENT_NAME", "abe")
	t.Setenv("GUPPI_GOVERNOR_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "abe", cfg.AgentName)
	require.Equal(t, 7, cfg.Governor.Limit)
}
