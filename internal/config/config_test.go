package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		original, had := os.LookupEnv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			} else {
				os.Unsetenv(k)
			}
		})
		if v == "" {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, v)
		}
	}
}

func TestLoadPaperModeNeverRequiresCredentials(t *testing.T) {
	withEnv(t, map[string]string{
		"TRADER_DATA_DIR":  t.TempDir(),
		"PAPER_TRADING":    "true",
		"ZERODHA_API_KEY":  "",
		"ZERODHA_API_SECRET": "",
		"ZERODHA_USER_ID":  "",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.PaperTrading)
}

func TestLoadLiveModeRejectsMissingCredentials(t *testing.T) {
	withEnv(t, map[string]string{
		"TRADER_DATA_DIR":    t.TempDir(),
		"PAPER_TRADING":      "false",
		"ZERODHA_API_KEY":    "",
		"ZERODHA_API_SECRET": "",
		"ZERODHA_USER_ID":    "",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZERODHA_API_KEY")
}

func TestLoadLiveModeAcceptsFullCredentials(t *testing.T) {
	withEnv(t, map[string]string{
		"TRADER_DATA_DIR":       t.TempDir(),
		"PAPER_TRADING":         "false",
		"ZERODHA_API_KEY":       "key123",
		"ZERODHA_API_SECRET":    "secret456",
		"ZERODHA_USER_ID":       "AB1234",
		"ZERODHA_ACCESS_TOKEN":  "tok789",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.PaperTrading)
	assert.Equal(t, "key123", cfg.ZerodhaAPIKey)
	assert.Equal(t, "AB1234", cfg.ZerodhaUserID)
}

func TestLoadDefaultsPortAndMasterUser(t *testing.T) {
	withEnv(t, map[string]string{
		"TRADER_DATA_DIR": t.TempDir(),
		"PAPER_TRADING":   "true",
		"GO_PORT":         "",
		"MASTER_USER_ID":  "",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "master", cfg.MasterUserID)
}

func TestLoadHonorsPortOverride(t *testing.T) {
	withEnv(t, map[string]string{
		"TRADER_DATA_DIR": t.TempDir(),
		"PAPER_TRADING":   "true",
		"GO_PORT":         "9100",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
}

func TestGetEnvAsFloatFallsBackOnInvalidValue(t *testing.T) {
	withEnv(t, map[string]string{"STARTING_CAPITAL": "not-a-number"})
	assert.Equal(t, 42.0, getEnvAsFloat("STARTING_CAPITAL", 42.0))
}
