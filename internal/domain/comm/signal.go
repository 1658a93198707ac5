// Package comm implements the routing actor (§4.2): owns the user/session/
// workspace topology, dispatches ingested records to authorized connections,
// and serves the HTTP façade's control-plane queries.
package comm

import (
	"github.com/google/uuid"

	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
)

// SignalKind discriminates the actor's inbound signal tagged union.
type SignalKind uint8

const (
	SignalFromDB SignalKind = iota
	SignalHeartbeat
	SignalConnClosed
	SignalSessionCheck
	SignalSessionMake
	SignalWsAdd
	SignalWplaceGet
	SignalUnitCheck
)

// Signal is the actor's single inbound message type.
type Signal struct {
	Kind SignalKind

	// SignalFromDB
	Data model.Data[model.Record[model.Update]]

	// SignalHeartbeat, SignalConnClosed, and the oneshot queries all key off
	// login/token; ConnID additionally scopes SignalConnClosed and SignalWsAdd.
	Login  string
	Token  model.Token
	ConnID uuid.UUID

	// SignalSessionMake
	Workspace    *WorkspacePlace // nil when the caller has no workspace to offer yet
	RespMake     chan SessionMakeResult

	// SignalWsAdd
	Mailbox  *mailbox.Mailbox
	RespWs   chan WsAddResult

	// SignalSessionCheck
	RespCheck chan error

	// SignalWplaceGet
	RespWplace chan WplaceResult

	// SignalUnitCheck
	Group      model.Group
	Unit       model.Unit
	RespUnit   chan error
}

// WorkspacePlace is the parsed workspace definition a first-time login
// supplies (loaded from the named workspace JSON file by the HTTP façade).
type WorkspacePlace struct {
	Name   string
	Pubtop map[model.Group][]model.Unit
}

// SessionMakeResult mirrors the original's "return login unchanged to signal
// workspace required" contract: Token is empty and WorkspaceRequired is true
// when the login is unknown and no WorkspacePlace was supplied.
type SessionMakeResult struct {
	Token             model.Token
	WorkspaceRequired bool
}

type WsAddResult struct {
	OK  bool
	Err error
}

type WplaceResult struct {
	Places map[model.Group][]model.Unit
	Err    error
}

func NewFromDB(d model.Data[model.Record[model.Update]]) Signal {
	return Signal{Kind: SignalFromDB, Data: d}
}

func NewHeartbeat(login string, token model.Token) Signal {
	return Signal{Kind: SignalHeartbeat, Login: login, Token: token}
}

func NewConnClosed(login string, token model.Token, connID uuid.UUID) Signal {
	return Signal{Kind: SignalConnClosed, Login: login, Token: token, ConnID: connID}
}

func NewSessionCheck(login string, token model.Token) (Signal, chan error) {
	resp := make(chan error, 1)
	return Signal{Kind: SignalSessionCheck, Login: login, Token: token, RespCheck: resp}, resp
}

func NewSessionMake(login string, ws *WorkspacePlace) (Signal, chan SessionMakeResult) {
	resp := make(chan SessionMakeResult, 1)
	return Signal{Kind: SignalSessionMake, Login: login, Workspace: ws, RespMake: resp}, resp
}

func NewWsAdd(login string, token model.Token, connID uuid.UUID, mb *mailbox.Mailbox) (Signal, chan WsAddResult) {
	resp := make(chan WsAddResult, 1)
	return Signal{Kind: SignalWsAdd, Login: login, Token: token, ConnID: connID, Mailbox: mb, RespWs: resp}, resp
}

func NewWplaceGet(login string, token model.Token) (Signal, chan WplaceResult) {
	resp := make(chan WplaceResult, 1)
	return Signal{Kind: SignalWplaceGet, Login: login, Token: token, RespWplace: resp}, resp
}

func NewUnitCheck(login string, token model.Token, g model.Group, u model.Unit) (Signal, chan error) {
	resp := make(chan error, 1)
	return Signal{Kind: SignalUnitCheck, Login: login, Token: token, Group: g, Unit: u, RespUnit: resp}, resp
}
