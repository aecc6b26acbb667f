package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Items []int  `json:"items"`
}

var fixed = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

func exerciseStore(t *testing.T, s Documents) {
	t.Helper()
	ctx := context.Background()

	var got doc
	found, err := s.Load(ctx, "users", &got)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Save(ctx, "users", doc{Name: "a", Items: []int{1, 2}}))
	require.NoError(t, s.Save(ctx, "users", doc{Name: "b", Items: []int{3}}))

	found, err = s.Load(ctx, "users", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, doc{Name: "b", Items: []int{3}}, got)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(filepath.Join(t.TempDir(), "data"), fixed)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStoreQuarantinesCorruptDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir, fixed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.json"), []byte("{not json"), 0o600))

	var got doc
	found, err := s.Load(context.Background(), "events", &got)
	require.NoError(t, err)
	require.False(t, found)

	_, err = os.Stat(filepath.Join(dir, "events.json"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "events.json.corrupt-20250102T030405"))
	require.NoError(t, err)

	// The store keeps working with empty state.
	require.NoError(t, s.Save(context.Background(), "events", doc{Name: "fresh"}))
	found, err = s.Load(context.Background(), "events", &got)
	require.NoError(t, err)
	require.True(t, found)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "itevents.db"), fixed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStoreQuarantinesCorruptDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "itevents.db"), fixed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.db.ExecContext(ctx, upsertDocumentSQL, "users", []byte("[[["), "now")
	require.NoError(t, err)

	var got doc
	found, err := s.Load(ctx, "users", &got)
	require.NoError(t, err)
	require.False(t, found)

	var name string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT name FROM documents`).Scan(&name))
	require.True(t, strings.HasPrefix(name, "users.corrupt-"))
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	exerciseStore(t, m)

	m.SetRaw("bad", []byte("nope"))
	var got doc
	found, err := m.Load(context.Background(), "bad", &got)
	require.NoError(t, err)
	require.False(t, found)
}
