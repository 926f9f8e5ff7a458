package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rdmtests/console/internal/rdmtests"
)

// Downloader fetches the log of a finished run from the test server.
type Downloader interface {
	DownloadResults(ctx context.Context, uid string, timestamp rdmtests.Token) ([]byte, error)
}

// Manager keeps downloaded run logs on disk for cacheTTL.
type Manager struct {
	cacheDir string
	cacheTTL time.Duration
}

func NewManager(cacheDir string, cacheTTL time.Duration) *Manager {
	return &Manager{
		cacheDir: cacheDir,
		cacheTTL: cacheTTL,
	}
}

// FileName is the name a run log is stored and offered under.
func FileName(uid string, timestamp rdmtests.Token) string {
	r := strings.NewReplacer(":", "", "/", "_", "\\", "_", "..", "_")
	return fmt.Sprintf("%s.%s.txt", r.Replace(uid), r.Replace(string(timestamp)))
}

func (m *Manager) path(uid string, timestamp rdmtests.Token) (string, error) {
	path := filepath.Join(m.cacheDir, FileName(uid, timestamp))
	if !strings.HasPrefix(path, filepath.Clean(m.cacheDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal log path: %s", path)
	}
	return path, nil
}

// GetCachedLog returns the path of a cached log, or "" when there is none or
// it has expired.
func (m *Manager) GetCachedLog(uid string, timestamp rdmtests.Token) (string, error) {
	path, err := m.path(uid, timestamp)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	if time.Since(info.ModTime()) > m.cacheTTL {
		os.Remove(path)
		return "", nil
	}

	return path, nil
}

// SaveLog writes data to the cache and returns its path.
func (m *Manager) SaveLog(uid string, timestamp rdmtests.Token, data []byte) (string, error) {
	if err := os.MkdirAll(m.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}
	path, err := m.path(uid, timestamp)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(m.cacheDir, ".log-*")
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write log file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store log file: %w", err)
	}
	return path, nil
}

// Fetch returns the log for a run, downloading it when it is not cached.
func (m *Manager) Fetch(ctx context.Context, d Downloader, uid string, timestamp rdmtests.Token) ([]byte, error) {
	path, err := m.GetCachedLog(uid, timestamp)
	if err != nil {
		return nil, err
	}
	if path != "" {
		return os.ReadFile(path)
	}

	data, err := d.DownloadResults(ctx, uid, timestamp)
	if err != nil {
		return nil, err
	}
	if _, err := m.SaveLog(uid, timestamp, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Prune removes expired logs and reports how many were deleted.
func (m *Manager) Prune() (int, error) {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > m.cacheTTL {
			if err := os.Remove(filepath.Join(m.cacheDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
