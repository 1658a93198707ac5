package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"path": {"public": "./public", "cred": "./cred.json"},
		"dir": {"public": "./public"},
		"groups": {"g": {"broker": "tcp://localhost:1883", "qos": 1, "topic": "sensors/+/value",
			"units": {"u": {"count_min": 2, "count_max": 5}}}},
		"db": {"path": "./data.sqlite3", "tx_count_max": 8},
		"session_duration_sec": 1800,
		"heartbeat_period_sec": 5
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./public", cfg.Path.Public)
	require.Equal(t, int64(2), cfg.Groups["g"].Units["u"].CountMin)
}

func TestLoadRejectsPathPublicWithoutDirPublic(t *testing.T) {
	path := writeConfig(t, `{
		"path": {"public": "./public", "cred": "./cred.json"},
		"dir": {"public": ""},
		"groups": {},
		"db": {"path": "./data.sqlite3", "tx_count_max": 8}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsCountMinNotLessThanCountMax(t *testing.T) {
	path := writeConfig(t, `{
		"path": {}, "dir": {},
		"groups": {"g": {"broker": "tcp://localhost:1883", "qos": 0, "topic": "t",
			"units": {"u": {"count_min": 5, "count_max": 5}}}},
		"db": {"path": "./data.sqlite3", "tx_count_max": 8}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadQOS(t *testing.T) {
	path := writeConfig(t, `{
		"path": {}, "dir": {},
		"groups": {"g": {"broker": "tcp://localhost:1883", "qos": 3, "topic": "t", "units": {}}},
		"db": {"path": "./data.sqlite3", "tx_count_max": 8}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsTxCountMaxBelowOne(t *testing.T) {
	path := writeConfig(t, `{
		"path": {}, "dir": {}, "groups": {},
		"db": {"path": "./data.sqlite3", "tx_count_max": 0}
	}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
