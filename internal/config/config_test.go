package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/shoprobot/internal/robot"
)

func TestDefaults(t *testing.T) {
	cfg, err := ParseFlags("robot", nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, robot.DefaultSearchURL, cfg.SiteURL)
	assert.Equal(t, 20*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 24, cfg.ScanCap)
	assert.True(t, cfg.Headless)
}

func TestEnvOverridesDefaultsAndFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SHOPROBOT_FLOW", "login")
	t.Setenv("SHOPROBOT_NAV_TIMEOUT_MS", "5000")
	t.Setenv("SHOPROBOT_ACTION_TIMEOUT_MS", "2500")
	t.Setenv("SHOPROBOT_HEADLESS", "false")
	t.Setenv("SHOPROBOT_USERNAME", "env_user")

	cfg, err := ParseFlags("robot", []string{"-username", "flag_user", "-action-timeout", "3s"})
	require.NoError(t, err)

	assert.Equal(t, "login", cfg.Flow)
	assert.Equal(t, robot.DefaultLoginURL, cfg.SiteURL)
	assert.Equal(t, 5*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 3*time.Second, cfg.ActionTimeout)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "flag_user", cfg.Username)
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("SHOPROBOT_SCAN_CAP", "lots")

	_, err := ParseFlags("robot", nil)
	assert.ErrorContains(t, err, "SHOPROBOT_SCAN_CAP")
}

func TestClamping(t *testing.T) {
	cfg, err := ParseFlags("robot", []string{"-scan-cap", "5000", "-nav-timeout", "0s", "-rate-limit", "0"})
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.ScanCap)
	assert.Equal(t, 20*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 100, cfg.RateLimitRequests)

	cfg, err = ParseFlags("robot", []string{"-scan-cap", "-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ScanCap)
}

func TestInvalidChoices(t *testing.T) {
	_, err := ParseFlags("robot", []string{"-engine", "netscape"})
	assert.Error(t, err)

	_, err = ParseFlags("robot", []string{"-flow", "crawl"})
	assert.Error(t, err)

	_, err = ParseFlags("robot", []string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestPositionalQuery(t *testing.T) {
	cfg, err := ParseFlags("robot", []string{"-engine", "fixture", "air", "max"})
	require.NoError(t, err)
	assert.Equal(t, "air max", cfg.Target)
}

func TestHelpFlag(t *testing.T) {
	cfg, err := ParseFlags("robot", []string{"-h"})
	require.NoError(t, err)
	assert.True(t, cfg.ShowHelp)

	var buf bytes.Buffer
	PrintHelp(&buf, "robot")
	assert.Contains(t, buf.String(), "--scan-cap")
	assert.Contains(t, buf.String(), EnvPrefix)
}

func TestRobotConfig(t *testing.T) {
	cfg, err := ParseFlags("robot", []string{"-flow", "login", "-site-url", "https://shop.test/", "-scan-cap", "7"})
	require.NoError(t, err)

	run := cfg.RobotConfig()
	assert.Equal(t, robot.FlowLogin, run.Flow)
	assert.Equal(t, "https://shop.test/", run.BaseURL)
	assert.Equal(t, 7, run.ScanCap)
	assert.NoError(t, run.Validate())
}

func TestRobotConfigFromDefaults(t *testing.T) {
	cfg := DefaultConfig()
	run := cfg.RobotConfig()
	assert.Equal(t, robot.DefaultSearchURL, run.BaseURL)
	assert.NoError(t, run.Validate())

	cfg.Flow = string(robot.FlowLogin)
	run = cfg.RobotConfig()
	assert.Equal(t, robot.DefaultLoginURL, run.BaseURL)
	assert.NoError(t, run.Validate())
}

func TestLoadEnv(t *testing.T) {
	const key = "SHOPROBOT_QUERY"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=trail shoes\n"), 0o600))

	require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	cfg, err := ParseFlags("robot", nil)
	require.NoError(t, err)
	assert.Equal(t, "trail shoes", cfg.Target)
}

func TestAllowedIPs(t *testing.T) {
	t.Setenv("SHOPROBOT_ALLOWED_IPS", "10.0.0.1, 10.0.0.2")

	cfg, err := ParseFlags("robot", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.AllowedIPs)

	cfg, err = ParseFlags("robot", []string{"-allow-ips", "127.0.0.1,,"})
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.AllowedIPs)
}
