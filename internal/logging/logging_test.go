package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, shutdown, err := New(Config{FilePath: path})
	require.NoError(t, err)
	defer shutdown(context.Background())

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestDefaultsFillZeroValues(t *testing.T) {
	cfg := defaults(Config{})
	require.Equal(t, 50, cfg.MaxSizeMB)
	require.Equal(t, 5, cfg.MaxBackups)
	require.Equal(t, 28, cfg.MaxAgeDays)
}
