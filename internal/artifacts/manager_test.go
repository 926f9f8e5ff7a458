package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdmtests/console/internal/rdmtests"
)

type fakeDownloader struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeDownloader) DownloadResults(ctx context.Context, uid string, ts rdmtests.Token) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "7a7000000001.42.txt", FileName("7a70:00000001", "42"))
	assert.Equal(t, "__etc_passwd.1.txt", FileName("../etc/passwd", "1"))
}

func TestSaveAndGetCachedLog(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)

	path, err := m.GetCachedLog("7a70:00000001", "1")
	require.NoError(t, err)
	assert.Empty(t, path)

	saved, err := m.SaveLog("7a70:00000001", "1", []byte("log"))
	require.NoError(t, err)

	path, err = m.GetCachedLog("7a70:00000001", "1")
	require.NoError(t, err)
	assert.Equal(t, saved, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log", string(data))
}

func TestExpiredLogIsRemoved(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute)

	path, err := m.SaveLog("uid", "1", []byte("old"))
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	cached, err := m.GetCachedLog("uid", "1")
	require.NoError(t, err)
	assert.Empty(t, cached)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFetchDownloadsOnce(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	d := &fakeDownloader{data: []byte("RDM responder test log")}

	for i := 0; i < 2; i++ {
		data, err := m.Fetch(context.Background(), d, "uid", "7")
		require.NoError(t, err)
		assert.Equal(t, "RDM responder test log", string(data))
	}
	assert.Equal(t, 1, d.calls)
}

func TestFetchPropagatesDownloadError(t *testing.T) {
	m := NewManager(t.TempDir(), time.Hour)
	d := &fakeDownloader{err: errors.New("logs are disabled")}

	_, err := m.Fetch(context.Background(), d, "uid", "7")
	assert.EqualError(t, err, "logs are disabled")
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, time.Minute)

	fresh, err := m.SaveLog("a", "1", []byte("x"))
	require.NoError(t, err)
	stale, err := m.SaveLog("b", "2", []byte("y"))
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.json"), []byte("{}"), 0644))

	removed, err := m.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.FileExists(t, fresh)
	assert.NoFileExists(t, stale)
}

func TestPruneMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing"), time.Minute)
	removed, err := m.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)
}
