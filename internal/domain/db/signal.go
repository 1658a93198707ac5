// Package db implements the ingest & retention actor (§4.1): the single
// writer for the persistent store, authoritative source of record IDs, and
// server of historical/last-value queries.
package db

import (
	"context"

	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/model"
)

// SignalKind discriminates the actor's inbound signal tagged union.
type SignalKind uint8

const (
	SignalIngest SignalKind = iota
	SignalGetRange
	SignalGetLast
	SignalClose
	SignalRetentionRetry
)

// Signal is the actor's single inbound message type, matched with a switch
// on Kind in the actor's dispatch method.
type Signal struct {
	Kind SignalKind

	// SignalIngest
	Ingest model.Data[model.Update]

	// SignalGetRange
	Group     model.Group
	Unit      model.Unit
	IDMin     uint64
	IDMax     uint64
	RespRange chan RangeResult

	// SignalGetLast
	Want     map[model.Group][]model.Unit
	RespLast chan map[model.Group][]UnitLast

	// SignalClose
	Done chan struct{}

	// SignalRetentionRetry: re-enters a deferred trim attempt on the actor's
	// own goroutine instead of the timer goroutine it was scheduled from.
	RetryFn func(ctx context.Context)
}

// RangeResult is the response to a GetRange query.
type RangeResult struct {
	Records []model.Record[model.Update]
	Err     error
}

// UnitLast pairs a Unit with its last known record, nil if the unit has no
// records yet (still a known unit, distinct from an unknown one).
type UnitLast struct {
	Unit   model.Unit
	Record *model.Record[model.Update]
}

func NewIngest(d model.Data[model.Update]) Signal {
	return Signal{Kind: SignalIngest, Ingest: d}
}

func NewGetRange(g model.Group, u model.Unit, min, max uint64) (Signal, chan RangeResult) {
	resp := make(chan RangeResult, 1)
	return Signal{Kind: SignalGetRange, Group: g, Unit: u, IDMin: min, IDMax: max, RespRange: resp}, resp
}

func NewGetLast(want map[model.Group][]model.Unit) (Signal, chan map[model.Group][]UnitLast) {
	resp := make(chan map[model.Group][]UnitLast, 1)
	return Signal{Kind: SignalGetLast, Want: want, RespLast: resp}, resp
}

func NewClose() (Signal, chan struct{}) {
	done := make(chan struct{})
	return Signal{Kind: SignalClose, Done: done}, done
}

func newRetentionRetry(fn func(ctx context.Context)) Signal {
	return Signal{Kind: SignalRetentionRetry, RetryFn: fn}
}

// errUnknownUnit is returned by GetRange for a unit absent from the topology.
var errUnknownUnit = apperr.New(apperr.BadRequest, "unknown unit")
