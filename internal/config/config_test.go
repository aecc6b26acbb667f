package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 365, cfg.MaxFutureDays)
	require.Equal(t, 4, cfg.AcquisitionParallelism)
	require.Equal(t, 15*time.Second, cfg.AdapterTimeoutDuration())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone: Europe/Moscow\nmax_future_days: 30\nstore_backend: mongo\nadapter_timeout: nope\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.MaxFutureDays)
	require.Equal(t, "file", cfg.StoreBackend)
	require.Equal(t, "15s", cfg.AdapterTimeout)
	require.Equal(t, "09:00", cfg.WorkHours.Start)
	require.Len(t, cfg.WorkHours.Weekdays, 5)
	require.NotEmpty(t, cfg.Sources)
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ITEVENTS_BOT_TOKEN", "123:abc")
	t.Setenv("ITEVENTS_MANAGER_SECRET", "mgr")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bot_token: from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.BotToken)
	require.Equal(t, "mgr", cfg.ManagerSecret)
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	d, err := ParseClock("09:30")
	require.NoError(t, err)
	require.Equal(t, 9*time.Hour+30*time.Minute, d)

	for _, bad := range []string{"9", "25:00", "10:75", "aa:bb"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestWeekdaysAndPoliteness(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	wds, err := cfg.Weekdays()
	require.NoError(t, err)
	require.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, wds)

	cfg.WorkHours.Weekdays = []string{"funday"}
	_, err = cfg.Weekdays()
	require.Error(t, err)

	cfg.PolitenessMin, cfg.PolitenessMax = "3s", "1s"
	lo, hi := cfg.Politeness()
	require.Equal(t, 3*time.Second, lo)
	require.Equal(t, 3*time.Second, hi)

	h, m := cfg.DefaultEventClock()
	require.Equal(t, 10, h)
	require.Equal(t, 0, m)
}
