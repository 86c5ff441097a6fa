package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
}

func TestPaths(t *testing.T) {
	s := NewFileStorage("/out", fixedClock)
	assert.Equal(t, filepath.Join("/out", "DC1_20261017.req"), s.RequestPath("DC1"))
	assert.Equal(t, filepath.Join("/out", "DC1_20261017.inf"), s.InfPath("DC1"))
	assert.Equal(t, filepath.Join("/out", "DC1_20261017.cer"), s.CertificatePath("DC1"))
	assert.Equal(t, filepath.Join("/out", "DC1_20261017.rsp"), ResponsePath(s.CertificatePath("DC1")))
}

func TestWriteFileReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStorage(dir, fixedClock)
	path := s.RequestPath("DC1")

	require.NoError(t, s.WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, s.WriteFile(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}

func TestWriteFileFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := NewFileStorage(filepath.Join(blocker, "sub"), fixedClock)
	assert.Error(t, s.WriteFile(s.RequestPath("DC1"), []byte("x"), 0o644))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")

	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}
