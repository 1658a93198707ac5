package service

import (
	"log/slog"
	"time"

	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/db"
	"github.com/appstronomer/umon/internal/domain/model"
)

// Db adapts the HTTP/WS façade's calls into db.Signal sends.
type Db struct {
	log     *slog.Logger
	inbox   chan<- db.Signal
	timeout time.Duration
}

func NewDb(log *slog.Logger, inbox chan<- db.Signal) *Db {
	return &Db{log: log, inbox: inbox, timeout: defaultTimeout}
}

func (d *Db) send(sig db.Signal, op string) bool {
	select {
	case d.inbox <- sig:
		return true
	case <-time.After(d.timeout):
		d.log.Error("[DBAdapter] Actor unreached: inbox send timed out", "op", op)
		return false
	}
}

func (d *Db) GetRange(g model.Group, u model.Unit, min, max uint64) ([]model.Record[model.Update], error) {
	sig, resp := db.NewGetRange(g, u, min, max)
	if !d.send(sig, "GetRange") {
		return nil, apperr.New(apperr.Internal, "db actor unreached")
	}
	select {
	case res := <-resp:
		return res.Records, res.Err
	case <-time.After(d.timeout):
		d.log.Error("[DBAdapter] Actor unresponded: response channel timed out", "op", "GetRange")
		return nil, apperr.New(apperr.Internal, "db actor unresponded")
	}
}

func (d *Db) GetLast(want map[model.Group][]model.Unit) (map[model.Group][]db.UnitLast, error) {
	sig, resp := db.NewGetLast(want)
	if !d.send(sig, "GetLast") {
		return nil, apperr.New(apperr.Internal, "db actor unreached")
	}
	select {
	case res := <-resp:
		return res, nil
	case <-time.After(d.timeout):
		d.log.Error("[DBAdapter] Actor unresponded: response channel timed out", "op", "GetLast")
		return nil, apperr.New(apperr.Internal, "db actor unresponded")
	}
}

// Ingest is fire-and-forget, matching §4.1's Ingest signal.
func (d *Db) Ingest(data model.Data[model.Update]) {
	d.send(db.NewIngest(data), "Ingest")
}
