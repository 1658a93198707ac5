package comm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
	"go.opentelemetry.io/otel"

	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
)

var tracer = otel.Tracer("umon/domain/comm")

// sessionEntry pairs a model.Session with the live mailbox handles of its
// Online connections, keyed by connection id. Kept out of the model package
// so the pure domain types stay free of the mailbox dependency.
type sessionEntry struct {
	*model.Session
	conns map[uuid.UUID]*mailbox.Mailbox
}

// Actor is the routing actor (§4.2).
type Actor struct {
	log   *slog.Logger
	inbox chan Signal

	users      map[string]*model.User
	sessions   map[string]map[model.Token]*sessionEntry // login -> token -> entry
	workspaces map[string]*model.Workspace
	groupIndex map[model.Group]map[model.Unit]map[string]struct{} // group -> unit -> workspace names

	sessionDuration time.Duration
	ulidEntropy     *ulidSource

	// authenticate checks a login/password pair; wired at construction so the HTTP
	// façade's credential-file reload (§10.1) only ever touches its own
	// package, never reaches into the actor's state directly.
	authenticate func(login, password string) bool
}

func New(log *slog.Logger, sessionDuration time.Duration, authenticate func(login, password string) bool) *Actor {
	return &Actor{
		log:             log,
		inbox:           make(chan Signal, 256),
		users:           make(map[string]*model.User),
		sessions:        make(map[string]map[model.Token]*sessionEntry),
		workspaces:      make(map[string]*model.Workspace),
		groupIndex:      make(map[model.Group]map[model.Unit]map[string]struct{}),
		sessionDuration: sessionDuration,
		ulidEntropy:     newULIDSource(),
		authenticate:    authenticate,
	}
}

func (a *Actor) Inbox() chan<- Signal { return a.inbox }

func (a *Actor) Serve() {
	a.log.Info("comm actor started")
	for sig := range a.inbox {
		a.dispatch(sig)
	}
	a.log.Info("comm actor inbox closed, stopping")
}

func (a *Actor) dispatch(sig Signal) {
	switch sig.Kind {
	case SignalFromDB:
		a.handleFromDB(sig.Data)
	case SignalHeartbeat:
		a.handleHeartbeat(sig.Login, sig.Token)
	case SignalConnClosed:
		a.handleConnClosed(sig.Login, sig.Token, sig.ConnID)
	case SignalSessionCheck:
		sig.RespCheck <- a.handleSessionCheck(sig.Login, sig.Token)
	case SignalSessionMake:
		sig.RespMake <- a.handleSessionMake(sig.Login, sig.Workspace)
	case SignalWsAdd:
		sig.RespWs <- a.handleWsAdd(sig.Login, sig.Token, sig.ConnID, sig.Mailbox)
	case SignalWplaceGet:
		sig.RespWplace <- a.handleWplaceGet(sig.Login, sig.Token)
	case SignalUnitCheck:
		sig.RespUnit <- a.handleUnitCheck(sig.Login, sig.Token, sig.Group, sig.Unit)
	}
}

// --- Dispatch algorithm (§4.2) ---

func (a *Actor) handleFromDB(d model.Data[model.Record[model.Update]]) {
	_, span := tracer.Start(context.Background(), "comm.dispatch")
	defer span.End()

	switch d.Kind {
	case model.DataKindSingle:
		a.dispatchOne(d.Group, d.Unit, d.Val)
	case model.DataKindMulti:
		a.dispatchMulti(d)
	}
}

func (a *Actor) dispatchOne(g model.Group, u model.Unit, rec model.Record[model.Update]) {
	wsNames := a.lookupWorkspaces(g, u)
	if len(wsNames) == 0 {
		return
	}
	payload := model.DataSingle(g, u, rec)
	for _, wsName := range wsNames {
		a.sendToWorkspace(wsName, payload)
	}
}

// dispatchMulti bundles all updates for one workspace into a single Data
// message so each downstream mailbox sees at most one signal per batch.
func (a *Actor) dispatchMulti(d model.Data[model.Record[model.Update]]) {
	perWorkspace := make(map[string][]model.GroupUnits[model.Record[model.Update]])
	for _, g := range d.Groups {
		byWorkspace := make(map[string][]model.UnitVal[model.Record[model.Update]])
		for _, uv := range g.Units {
			for _, wsName := range a.lookupWorkspaces(g.Group, uv.Unit) {
				byWorkspace[wsName] = append(byWorkspace[wsName], uv)
			}
		}
		for wsName, units := range byWorkspace {
			perWorkspace[wsName] = append(perWorkspace[wsName], model.GroupUnits[model.Record[model.Update]]{
				Group: g.Group, Units: units,
			})
		}
	}
	for wsName, groups := range perWorkspace {
		a.sendToWorkspace(wsName, model.DataMulti(groups))
	}
}

func (a *Actor) lookupWorkspaces(g model.Group, u model.Unit) []string {
	units, ok := a.groupIndex[g]
	if !ok {
		return nil
	}
	names, ok := units[u]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	return out
}

func (a *Actor) sendToWorkspace(wsName string, payload model.Data[model.Record[model.Update]]) {
	ws, ok := a.workspaces[wsName]
	if !ok {
		a.log.Warn("comm: dangling workspace reference in group index, pruning", "workspace", wsName)
		a.pruneWorkspaceFromIndex(wsName)
		return
	}
	var staleLogins []string
	for login := range ws.Logins {
		if _, ok := a.users[login]; !ok {
			staleLogins = append(staleLogins, login)
			continue
		}
		for _, sess := range a.sessions[login] {
			for _, mb := range sess.conns {
				mb.SendData(payload)
			}
		}
	}
	for _, login := range staleLogins {
		delete(ws.Logins, login)
	}
	if len(ws.Logins) == 0 {
		a.removeWorkspace(wsName)
	}
}

func (a *Actor) pruneWorkspaceFromIndex(wsName string) {
	for g, units := range a.groupIndex {
		for u, names := range units {
			delete(names, wsName)
			if len(names) == 0 {
				delete(units, u)
			}
		}
		if len(units) == 0 {
			delete(a.groupIndex, g)
		}
	}
}

func (a *Actor) removeWorkspace(name string) {
	delete(a.workspaces, name)
	a.pruneWorkspaceFromIndex(name)
}

// --- Session lifecycle (§4.2) ---

func (a *Actor) handleSessionMake(login string, ws *WorkspacePlace) SessionMakeResult {
	if user, ok := a.users[login]; ok {
		return a.mintSession(user)
	}
	if ws == nil {
		return SessionMakeResult{WorkspaceRequired: true}
	}

	workspace, ok := a.workspaces[ws.Name]
	if !ok {
		workspace = model.NewWorkspace(ws.Name)
		for g, units := range ws.Pubtop {
			set := make(map[model.Unit]struct{}, len(units))
			for _, u := range units {
				set[u] = struct{}{}
			}
			workspace.Pubtop[g] = set
		}
		a.workspaces[ws.Name] = workspace
		a.registerWorkspaceIndex(workspace)
	}
	workspace.Logins[login] = struct{}{}

	user := model.NewUser(login, ws.Name, a.sessionDuration)
	a.users[login] = user
	a.sessions[login] = make(map[model.Token]*sessionEntry)
	return a.mintSession(user)
}

func (a *Actor) registerWorkspaceIndex(ws *model.Workspace) {
	for g, units := range ws.Pubtop {
		if a.groupIndex[g] == nil {
			a.groupIndex[g] = make(map[model.Unit]map[string]struct{})
		}
		for u := range units {
			if a.groupIndex[g][u] == nil {
				a.groupIndex[g][u] = make(map[string]struct{})
			}
			a.groupIndex[g][u][ws.Name] = struct{}{}
		}
	}
}

func (a *Actor) mintSession(user *model.User) SessionMakeResult {
	token := model.Token(ulid.MustNew(ulid.Now(), a.ulidEntropy).String())
	sess := model.NewSession(token)
	user.Sessions[token] = sess
	if a.sessions[user.Login] == nil {
		a.sessions[user.Login] = make(map[model.Token]*sessionEntry)
	}
	a.sessions[user.Login][token] = &sessionEntry{Session: sess, conns: make(map[uuid.UUID]*mailbox.Mailbox)}
	a.scheduleHeartbeat(user.Login, token, a.sessionDuration)
	return SessionMakeResult{Token: token}
}

func (a *Actor) scheduleHeartbeat(login string, token model.Token, after time.Duration) {
	entry := a.entryFor(login, token)
	if entry == nil || entry.HeartbeatPending {
		return
	}
	entry.HeartbeatPending = true
	time.AfterFunc(after, func() {
		a.inbox <- NewHeartbeat(login, token)
	})
}

func (a *Actor) entryFor(login string, token model.Token) *sessionEntry {
	byToken, ok := a.sessions[login]
	if !ok {
		return nil
	}
	return byToken[token]
}

func (a *Actor) handleHeartbeat(login string, token model.Token) {
	entry := a.entryFor(login, token)
	if entry == nil {
		return
	}
	entry.HeartbeatPending = false

	switch entry.State {
	case model.SessionOnline:
		// connections are live; nothing to do until they all close.
		return
	case model.SessionOffline:
		elapsed := time.Since(entry.OfflineSince)
		if elapsed >= a.sessionDuration {
			a.closeSession(login, token)
			return
		}
		a.scheduleHeartbeat(login, token, a.sessionDuration-elapsed)
	}
}

func (a *Actor) closeSession(login string, token model.Token) {
	entry := a.entryFor(login, token)
	if entry == nil {
		return
	}
	entry.State = model.SessionClosed
	delete(a.sessions[login], token)

	user, ok := a.users[login]
	if ok {
		delete(user.Sessions, token)
		if len(user.Sessions) == 0 {
			a.removeUser(login)
		}
	}
}

func (a *Actor) removeUser(login string) {
	user, ok := a.users[login]
	if !ok {
		return
	}
	delete(a.users, login)
	delete(a.sessions, login)
	if ws, ok := a.workspaces[user.WorkspaceName]; ok {
		delete(ws.Logins, login)
		if len(ws.Logins) == 0 {
			a.removeWorkspace(user.WorkspaceName)
		}
	}
}

func (a *Actor) handleSessionCheck(login string, token model.Token) error {
	entry := a.entryFor(login, token)
	if entry == nil {
		return apperr.New(apperr.Unauthorized, "unknown session")
	}
	if entry.State == model.SessionOffline {
		entry.OfflineSince = time.Now()
	}
	return nil
}

func (a *Actor) handleWsAdd(login string, token model.Token, connID uuid.UUID, mb *mailbox.Mailbox) WsAddResult {
	entry := a.entryFor(login, token)
	if entry == nil {
		return WsAddResult{OK: false, Err: apperr.New(apperr.Unauthorized, "unknown session")}
	}
	entry.conns[connID] = mb
	entry.State = model.SessionOnline
	return WsAddResult{OK: true}
}

func (a *Actor) handleConnClosed(login string, token model.Token, connID uuid.UUID) {
	entry := a.entryFor(login, token)
	if entry == nil {
		return
	}
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		entry.State = model.SessionOffline
		entry.OfflineSince = time.Now()
		a.scheduleHeartbeat(login, token, a.sessionDuration)
	}
}

func (a *Actor) handleWplaceGet(login string, token model.Token) WplaceResult {
	entry := a.entryFor(login, token)
	if entry == nil {
		return WplaceResult{Err: apperr.New(apperr.Unauthorized, "unknown session")}
	}
	user := a.users[login]
	ws := a.workspaces[user.WorkspaceName]
	out := make(map[model.Group][]model.Unit, len(ws.Pubtop))
	for g, units := range ws.Pubtop {
		list := make([]model.Unit, 0, len(units))
		for u := range units {
			list = append(list, u)
		}
		out[g] = list
	}
	return WplaceResult{Places: out}
}

func (a *Actor) handleUnitCheck(login string, token model.Token, g model.Group, u model.Unit) error {
	entry := a.entryFor(login, token)
	if entry == nil {
		return apperr.New(apperr.Unauthorized, "unknown session")
	}
	user := a.users[login]
	ws := a.workspaces[user.WorkspaceName]
	if !ws.Authorizes(g, u) {
		return apperr.New(apperr.Unauthorized, "unit not authorized for workspace")
	}
	return nil
}
