package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appLog "itevents/internal/log"
)

func TestRedirectLogAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itevents.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0o644))

	require.NoError(t, redirectLog(path))
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })
	appLog.Info("redirected", "k", "v")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "earlier\n")
	require.Contains(t, string(raw), `"message":"redirected"`)
	require.Contains(t, string(raw), `"k":"v"`)

	require.Error(t, redirectLog(filepath.Join(t.TempDir(), "missing", "x.log")))
}
