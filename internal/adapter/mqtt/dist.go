package mqtt

import (
	"context"
	"log/slog"

	"github.com/appstronomer/umon/internal/domain/db"
	"github.com/appstronomer/umon/internal/domain/model"
)

// GroupConfig is one configured Group's MQTT bridge topology.
type GroupConfig struct {
	Group  model.Group
	Broker string
	Topic  string
	QOS    byte
	Units  []model.Unit
}

// Dist bridges one Sub per configured Group into the DB actor's inbox,
// re-asserting Online/Offline fills across every configured unit of the
// group on each (re)connect/disconnect since the broker itself doesn't
// retain per-unit liveness across reconnects (§4.5).
type Dist struct {
	log     *slog.Logger
	dbInbox chan<- db.Signal
	groups  []GroupConfig
	subs    []*Sub
}

func NewDist(log *slog.Logger, dbInbox chan<- db.Signal, groups []GroupConfig) *Dist {
	d := &Dist{log: log, dbInbox: dbInbox, groups: groups}
	for _, gc := range groups {
		gc := gc
		sub := NewSub(log, gc.Group, gc.Broker, gc.Topic, gc.QOS, Callbacks{
			OnMessage: func(unit model.Unit, payload []byte) {
				d.dbInbox <- db.NewIngest(model.DataSingle(gc.Group, unit, model.UpdateValue(model.Value(payload))))
			},
			OnOnline: func() {
				d.dbInbox <- db.NewIngest(d.fill(gc, model.UpdateOnline()))
			},
			OnOffline: func() {
				d.dbInbox <- db.NewIngest(d.fill(gc, model.UpdateOffline()))
			},
		})
		d.subs = append(d.subs, sub)
	}
	return d
}

func (d *Dist) fill(gc GroupConfig, upd model.Update) model.Data[model.Update] {
	units := make([]model.UnitVal[model.Update], 0, len(gc.Units))
	for _, u := range gc.Units {
		units = append(units, model.UnitVal[model.Update]{Unit: u, Val: upd})
	}
	return model.DataMulti([]model.GroupUnits[model.Update]{{Group: gc.Group, Units: units}})
}

// Serve runs every group's Sub on its own goroutine until ctx is cancelled.
func (d *Dist) Serve(ctx context.Context) {
	d.log.Info("mqtt dist started", "groups", len(d.subs))
	done := make(chan struct{}, len(d.subs))
	for _, sub := range d.subs {
		sub := sub
		go func() {
			sub.Run(ctx)
			done <- struct{}{}
		}()
	}
	for range d.subs {
		<-done
	}
	d.log.Info("mqtt dist stopped")
}
