// Package service implements the thin oneshot-adapter layer between the HTTP/
// WS façade and the Comm/DB actors, grounded on the original's
// server/adapter.rs: every call either enqueues a signal and awaits its
// response channel, or fails typed and logs with a bracketed-tag prefix
// distinguishing "actor unreached" (send blocked/failed) from "actor
// unresponded" (response channel dropped/timed out).
package service

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/comm"
	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
)

const defaultTimeout = 2 * time.Second

// Comm adapts the HTTP/WS façade's calls into comm.Signal sends.
type Comm struct {
	log     *slog.Logger
	inbox   chan<- comm.Signal
	timeout time.Duration
}

func NewComm(log *slog.Logger, inbox chan<- comm.Signal) *Comm {
	return &Comm{log: log, inbox: inbox, timeout: defaultTimeout}
}

func (c *Comm) send(sig comm.Signal, op string) bool {
	select {
	case c.inbox <- sig:
		return true
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unreached: inbox send timed out", "op", op)
		return false
	}
}

func (c *Comm) SessionCheck(login string, token model.Token) error {
	sig, resp := comm.NewSessionCheck(login, token)
	if !c.send(sig, "SessionCheck") {
		return apperr.New(apperr.Internal, "comm actor unreached")
	}
	select {
	case err := <-resp:
		return err
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unresponded: response channel timed out", "op", "SessionCheck")
		return apperr.New(apperr.Internal, "comm actor unresponded")
	}
}

func (c *Comm) SessionMake(login string, ws *comm.WorkspacePlace) (comm.SessionMakeResult, error) {
	sig, resp := comm.NewSessionMake(login, ws)
	if !c.send(sig, "SessionMake") {
		return comm.SessionMakeResult{}, apperr.New(apperr.Internal, "comm actor unreached")
	}
	select {
	case res := <-resp:
		return res, nil
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unresponded: response channel timed out", "op", "SessionMake")
		return comm.SessionMakeResult{}, apperr.New(apperr.Internal, "comm actor unresponded")
	}
}

func (c *Comm) WsAdd(login string, token model.Token, connID uuid.UUID, mb *mailbox.Mailbox) error {
	sig, resp := comm.NewWsAdd(login, token, connID, mb)
	if !c.send(sig, "WsAdd") {
		return apperr.New(apperr.Internal, "comm actor unreached")
	}
	select {
	case res := <-resp:
		if !res.OK {
			return res.Err
		}
		return nil
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unresponded: response channel timed out", "op", "WsAdd")
		return apperr.New(apperr.Internal, "comm actor unresponded")
	}
}

func (c *Comm) WplaceGet(login string, token model.Token) (map[model.Group][]model.Unit, error) {
	sig, resp := comm.NewWplaceGet(login, token)
	if !c.send(sig, "WplaceGet") {
		return nil, apperr.New(apperr.Internal, "comm actor unreached")
	}
	select {
	case res := <-resp:
		return res.Places, res.Err
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unresponded: response channel timed out", "op", "WplaceGet")
		return nil, apperr.New(apperr.Internal, "comm actor unresponded")
	}
}

func (c *Comm) UnitCheck(login string, token model.Token, g model.Group, u model.Unit) error {
	sig, resp := comm.NewUnitCheck(login, token, g, u)
	if !c.send(sig, "UnitCheck") {
		return apperr.New(apperr.Internal, "comm actor unreached")
	}
	select {
	case err := <-resp:
		return err
	case <-time.After(c.timeout):
		c.log.Error("[CommAdapter] Actor unresponded: response channel timed out", "op", "UnitCheck")
		return apperr.New(apperr.Internal, "comm actor unresponded")
	}
}

// NotifyConnClosed is fire-and-forget, matching FromConn's signature in §4.2.
func (c *Comm) NotifyConnClosed(login string, token model.Token, connID uuid.UUID) {
	c.send(comm.NewConnClosed(login, token, connID), "ConnClosed")
}
