package db

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"github.com/appstronomer/umon/internal/domain/model"
)

var tracer = otel.Tracer("umon/domain/db")

// UnitConfig is one unit's configured retention window.
type UnitConfig struct {
	CountMin int64
	CountMax int64
}

// Topology is the boot-time configured Group -> Unit -> retention mapping.
type Topology map[model.Group]map[model.Unit]UnitConfig

type unitState struct {
	id       int64
	cfg      UnitConfig
	count    int64
	last     *model.Record[model.Update]
	overflow bool // set during a batch when count reaches cfg.CountMax
}

// Forward hands a drained, ID-assigned batch to the routing actor. Kept as a
// plain function value rather than a dependency on the comm package so the
// DB actor's only real import stays the domain model, matching §2's
// dependency-order rule ("DB actor depends on domain model only").
type Forward func(model.Data[model.Record[model.Update]])

// Actor is the ingest & retention actor (§4.1).
type Actor struct {
	log   *slog.Logger
	store *Store
	fwd   Forward

	inbox    chan Signal
	txCredit int // tx_count_max

	groups map[model.Group]map[model.Unit]*unitState

	cache *lru.Cache[string, model.Record[model.Update]]

	retention *retentionScheduler
}

// New constructs the actor and loads UnitState for every configured unit by
// scanning the store, per §4.1's startup contract.
func New(ctx context.Context, log *slog.Logger, store *Store, topo Topology, txCredit int, fwd Forward) (*Actor, error) {
	cache, _ := lru.New[string, model.Record[model.Update]](1024)

	a := &Actor{
		log:      log,
		store:    store,
		fwd:      fwd,
		inbox:    make(chan Signal, txCredit),
		txCredit: txCredit,
		groups:   make(map[model.Group]map[model.Unit]*unitState),
		cache:    cache,
	}
	a.retention = newRetentionScheduler(log, a.trimUnit, a.requeueRetentionRetry)

	for g, units := range topo {
		groupID, err := store.EnsureGroup(ctx, g)
		if err != nil {
			return nil, err
		}
		a.groups[g] = make(map[model.Unit]*unitState)
		for u, cfg := range units {
			unitID, err := store.EnsureUnit(ctx, groupID, u)
			if err != nil {
				return nil, err
			}
			last, err := store.LastRecord(ctx, unitID)
			if err != nil {
				return nil, err
			}
			count, err := store.Count(ctx, unitID)
			if err != nil {
				return nil, err
			}
			a.groups[g][u] = &unitState{id: unitID, cfg: cfg, count: count, last: last}
			if last != nil {
				a.cache.Add(cacheKey(g, u), *last)
			}
		}
	}
	return a, nil
}

func cacheKey(g model.Group, u model.Unit) string {
	return string(g) + "\x00" + string(u)
}

// Inbox returns the channel producers (Comm's HTTP façade wiring, the MQTT
// Subscriber adapter) send Signal values into.
func (a *Actor) Inbox() chan<- Signal { return a.inbox }

// Serve runs the actor loop until a Close signal is received and processed.
// It is meant to run on a dedicated goroutine, synchronous store access only.
func (a *Actor) Serve(ctx context.Context) {
	a.log.Info("db actor started")
	for {
		sig, ok := <-a.inbox
		if !ok {
			a.log.Info("db actor inbox closed, stopping")
			return
		}
		if sig.Kind == SignalClose {
			a.log.Info("db actor received close signal, draining")
			close(sig.Done)
			return
		}
		a.dispatch(ctx, sig)
	}
}

func (a *Actor) dispatch(ctx context.Context, sig Signal) {
	switch sig.Kind {
	case SignalIngest:
		a.drain(ctx, sig)
	case SignalGetRange:
		a.handleGetRange(ctx, sig)
	case SignalGetLast:
		a.handleGetLast(sig)
	case SignalRetentionRetry:
		sig.RetryFn(ctx)
	}
}

// requeueRetentionRetry posts a deferred retention retry back onto the
// actor's own inbox, so fn (which touches unitState) never runs on the
// time.AfterFunc timer goroutine it was scheduled from.
func (a *Actor) requeueRetentionRetry(fn func(ctx context.Context)) {
	a.inbox <- newRetentionRetry(fn)
}

// drain opens one transaction and processes the triggering Ingest signal plus
// up to txCredit-1 additional Ingest signals drained non-blockingly from the
// inbox. A non-Ingest signal encountered while draining ends the batch and is
// processed after commit. See DESIGN.md for the credit-accounting resolution:
// one credit is spent per drained signal, never per record.
func (a *Actor) drain(ctx context.Context, first Signal) {
	ctx, span := tracer.Start(ctx, "db.drain")
	defer span.End()

	tx, err := a.store.Tx(ctx)
	if err != nil {
		a.log.Error("db: begin transaction failed", "error", err)
		return
	}

	var batch []model.Data[model.Record[model.Update]]
	credit := a.txCredit

	pending := first
drain:
	for {
		enriched, err := a.pushLocked(ctx, tx, pending.Ingest)
		if err != nil {
			a.log.Error("db: push record failed", "error", err)
		} else if !enriched.IsEmpty() {
			batch = append(batch, enriched)
		}
		credit--
		if credit <= 0 {
			break
		}

		select {
		case next := <-a.inbox:
			if next.Kind != SignalIngest {
				a.finishBatch(ctx, tx, batch)
				a.dispatch(ctx, next)
				return
			}
			pending = next
		default:
			break drain
		}
	}
	a.finishBatch(ctx, tx, batch)
}

func (a *Actor) finishBatch(ctx context.Context, tx *sql.Tx, batch []model.Data[model.Record[model.Update]]) {
	err := tx.Commit()
	saved := err == nil
	if err != nil {
		a.log.Error("db: commit failed, records kept unsaved", "error", err)
	}
	for _, d := range batch {
		a.markSaved(&d, saved)
		a.fwd(d)
	}
	a.runRetention(ctx)
}

func (a *Actor) markSaved(d *model.Data[model.Record[model.Update]], saved bool) {
	if d.Kind == model.DataKindSingle {
		d.Val.IsSaved = saved
		return
	}
	for gi := range d.Groups {
		for ui := range d.Groups[gi].Units {
			d.Groups[gi].Units[ui].Val.IsSaved = saved
		}
	}
}

// pushLocked assigns IDs synchronously (before the transaction commits) and
// writes rows within tx. The returned Data carries the final IDs even if the
// surrounding transaction later fails to commit.
func (a *Actor) pushLocked(ctx context.Context, tx *sql.Tx, in model.Data[model.Update]) (model.Data[model.Record[model.Update]], error) {
	switch in.Kind {
	case model.DataKindSingle:
		rec, err := a.pushOne(ctx, tx, in.Group, in.Unit, in.Val)
		if err != nil {
			return model.Data[model.Record[model.Update]]{}, err
		}
		return model.DataSingle(in.Group, in.Unit, rec), nil
	case model.DataKindMulti:
		var groups []model.GroupUnits[model.Record[model.Update]]
		for _, g := range in.Groups {
			var units []model.UnitVal[model.Record[model.Update]]
			for _, uv := range g.Units {
				rec, err := a.pushOne(ctx, tx, g.Group, uv.Unit, uv.Val)
				if err != nil {
					a.log.Error("db: push unit failed", "group", string(g.Group), "unit", string(uv.Unit), "error", err)
					continue
				}
				units = append(units, model.UnitVal[model.Record[model.Update]]{Unit: uv.Unit, Val: rec})
			}
			if len(units) > 0 {
				groups = append(groups, model.GroupUnits[model.Record[model.Update]]{Group: g.Group, Units: units})
			}
		}
		return model.DataMulti(groups), nil
	}
	return model.Data[model.Record[model.Update]]{}, nil
}

func (a *Actor) pushOne(ctx context.Context, tx *sql.Tx, g model.Group, u model.Unit, upd model.Update) (model.Record[model.Update], error) {
	us := a.unitFor(g, u)
	if us == nil {
		return model.Record[model.Update]{}, errUnknownUnit
	}

	var nextID uint64
	if us.last != nil {
		nextID = us.last.ID + 1
	}
	rec := model.Record[model.Update]{ID: nextID, Time: time.Now().UnixMilli(), IsSaved: true, Val: upd}

	if err := InsertRecord(ctx, tx, us.id, rec); err != nil {
		return model.Record[model.Update]{}, err
	}

	us.last = &rec
	us.count++
	a.cache.Add(cacheKey(g, u), rec)
	if us.count >= us.cfg.CountMax {
		us.overflow = true
	}
	return rec, nil
}

func (a *Actor) unitFor(g model.Group, u model.Unit) *unitState {
	units, ok := a.groups[g]
	if !ok {
		return nil
	}
	return units[u]
}

// runRetention trims every unit flagged overflowed during the just-committed
// batch, per §4.1: delete the oldest count_min records, decrement count.
func (a *Actor) runRetention(ctx context.Context) {
	for g, units := range a.groups {
		for u, us := range units {
			if !us.overflow {
				continue
			}
			us.overflow = false
			a.retention.schedule(ctx, g, u, us)
		}
	}
}

// trimUnit performs one retention attempt outside the batch transaction.
func (a *Actor) trimUnit(ctx context.Context, us *unitState) error {
	if err := a.store.TrimOldest(ctx, us.id, us.cfg.CountMin); err != nil {
		return err
	}
	us.count -= us.cfg.CountMin
	if us.count < 0 {
		us.count = 0
	}
	return nil
}

func (a *Actor) handleGetRange(ctx context.Context, sig Signal) {
	us := a.unitFor(sig.Group, sig.Unit)
	if us == nil {
		sig.RespRange <- RangeResult{Err: errUnknownUnit}
		return
	}
	records, err := a.store.RangeRecords(ctx, us.id, sig.IDMin, sig.IDMax)
	sig.RespRange <- RangeResult{Records: records, Err: err}
}

func (a *Actor) handleGetLast(sig Signal) {
	out := make(map[model.Group][]UnitLast, len(sig.Want))
	for g, units := range sig.Want {
		var list []UnitLast
		for _, u := range units {
			us := a.unitFor(g, u)
			if us == nil {
				list = append(list, UnitLast{Unit: u, Record: nil})
				continue
			}
			if cached, ok := a.cache.Get(cacheKey(g, u)); ok {
				r := cached
				list = append(list, UnitLast{Unit: u, Record: &r})
				continue
			}
			list = append(list, UnitLast{Unit: u, Record: us.last})
		}
		out[g] = list
	}
	sig.RespLast <- out
}
