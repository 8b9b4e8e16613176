package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		LogDir:          dir,
		FileName:        "semindex.log",
		AsyncBufferSize: 16,
		BatchSize:       1,
		FlushInterval:   10,
	}, nil)
	require.NoError(t, err)

	l.Info("folder %s admitted", "notes")
	time.Sleep(50 * time.Millisecond)
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "semindex.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "folder notes admitted")
}

func TestLoggerRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		LogDir:          dir,
		FileName:        "semindex.log",
		Level:           WARN,
		AsyncBufferSize: 16,
		BatchSize:       1,
		FlushInterval:   10,
	}, nil)
	require.NoError(t, err)

	l.Debug("should be dropped")
	l.Warn("should land")
	time.Sleep(50 * time.Millisecond)
	l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "semindex.log"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "should be dropped")
	require.Contains(t, string(data), "should land")
}
