package model

import "time"

// Workspace maps the Groups/Units a set of users may observe ("pubtop",
// publishable topology) and tracks its member logins. Created lazily on the
// first login that references it by name; destroyed when its last login
// leaves.
type Workspace struct {
	Name   string
	Pubtop map[Group]map[Unit]struct{}
	Logins map[string]struct{}
}

func NewWorkspace(name string) *Workspace {
	return &Workspace{
		Name:   name,
		Pubtop: make(map[Group]map[Unit]struct{}),
		Logins: make(map[string]struct{}),
	}
}

// Authorizes reports whether this workspace's topology publishes (group, unit).
func (w *Workspace) Authorizes(g Group, u Unit) bool {
	units, ok := w.Pubtop[g]
	if !ok {
		return false
	}
	_, ok = units[u]
	return ok
}

// Token is a session token, a ULID rendered as its canonical string form.
type Token string

// SessionState is Offline(since) | Online(connections) | Closed.
type SessionState uint8

const (
	SessionOffline SessionState = iota
	SessionOnline
	SessionClosed
)

// Session is a user's token-bound context owning zero or more live
// Connections. HeartbeatPending is true iff exactly one scheduled wakeup is
// in flight for this session, preventing duplicate timers from stacking.
type Session struct {
	Token            Token
	State            SessionState
	OfflineSince     time.Time
	HeartbeatPending bool
}

func NewSession(token Token) *Session {
	return &Session{
		Token:        token,
		State:        SessionOffline,
		OfflineSince: time.Now(),
	}
}

// User owns one or more Sessions for a single login, bound to one Workspace.
type User struct {
	Login           string
	WorkspaceName   string
	Sessions        map[Token]*Session
	SessionDuration time.Duration
}

func NewUser(login, workspaceName string, sessionDuration time.Duration) *User {
	return &User{
		Login:           login,
		WorkspaceName:   workspaceName,
		Sessions:        make(map[Token]*Session),
		SessionDuration: sessionDuration,
	}
}
