package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Credentials holds the login -> password map loaded from the credential
// file (path.cred) and watches it for changes so the HTTP façade's login
// handler picks up edits without a restart, per §10.1.
type Credentials struct {
	log  *slog.Logger
	path string

	mu    sync.RWMutex
	creds map[string]string

	watcher *fsnotify.Watcher
}

// LoadCredentials reads path once and starts watching it for writes.
func LoadCredentials(log *slog.Logger, path string) (*Credentials, error) {
	c := &Credentials{log: log, path: path, creds: make(map[string]string)}
	if err := c.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	c.watcher = watcher
	go c.watch()
	return c, nil
}

func (c *Credentials) reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var creds map[string]string
	if err := json.Unmarshal(raw, &creds); err != nil {
		return err
	}
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
	return nil
}

func (c *Credentials) watch() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				c.log.Warn("config: credential file reload failed", "error", err)
				continue
			}
			c.log.Info("config: credential file reloaded")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Warn("config: credential watcher error", "error", err)
		}
	}
}

// Authenticate reports whether login/password matches the loaded credential
// file. Matches the comm.Actor's authenticate function shape.
func (c *Credentials) Authenticate(login, password string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want, ok := c.creds[login]
	return ok && want == password
}

func (c *Credentials) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}
