package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticateMatchesLoadedCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cred.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alice":"secret"}`), 0o644))

	creds, err := LoadCredentials(testLogger(), path)
	require.NoError(t, err)
	defer creds.Close()

	require.True(t, creds.Authenticate("alice", "secret"))
	require.False(t, creds.Authenticate("alice", "wrong"))
	require.False(t, creds.Authenticate("bob", "secret"))
}

func TestCredentialsReloadOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cred.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alice":"secret"}`), 0o644))

	creds, err := LoadCredentials(testLogger(), path)
	require.NoError(t, err)
	defer creds.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"alice":"rotated"}`), 0o644))

	require.Eventually(t, func() bool {
		return creds.Authenticate("alice", "rotated")
	}, time.Second, 10*time.Millisecond)
}
