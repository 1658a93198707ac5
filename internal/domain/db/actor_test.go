package db

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appstronomer/umon/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestActor(t *testing.T, txCredit int) (*Actor, chan model.Data[model.Record[model.Update]]) {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fwdCh := make(chan model.Data[model.Record[model.Update]], 64)
	topo := Topology{
		"g": {"u": UnitConfig{CountMin: 2, CountMax: 5}},
	}
	a, err := New(context.Background(), testLogger(), store, topo, txCredit, func(d model.Data[model.Record[model.Update]]) {
		fwdCh <- d
	})
	require.NoError(t, err)
	return a, fwdCh
}

func TestSingleIngestAssignsIDZero(t *testing.T) {
	a, fwd := newTestActor(t, 8)
	go a.Serve(context.Background())

	a.Inbox() <- NewIngest(model.DataSingle[model.Update]("g", "u", model.UpdateValue(model.Value("x"))))

	d := <-fwd
	require.Equal(t, model.DataKindSingle, d.Kind)
	require.Equal(t, uint64(0), d.Val.ID)
	require.True(t, d.Val.IsSaved)
}

func TestMonotoneIDs(t *testing.T) {
	a, fwd := newTestActor(t, 1)
	go a.Serve(context.Background())

	for i := 0; i < 3; i++ {
		a.Inbox() <- NewIngest(model.DataSingle[model.Update]("g", "u", model.UpdateOnline()))
	}
	var ids []uint64
	for i := 0; i < 3; i++ {
		d := <-fwd
		ids = append(ids, d.Val.ID)
	}
	require.Equal(t, []uint64{0, 1, 2}, ids)
}

func TestRetentionTrimsAfterOverflow(t *testing.T) {
	a, fwd := newTestActor(t, 1)
	go a.Serve(context.Background())

	for i := 0; i < 5; i++ {
		a.Inbox() <- NewIngest(model.DataSingle[model.Update]("g", "u", model.UpdateOnline()))
		<-fwd
	}

	require.Eventually(t, func() bool {
		us := a.unitFor("g", "u")
		return us.count == 3
	}, time.Second, 10*time.Millisecond)

	us := a.unitFor("g", "u")
	require.Equal(t, uint64(4), us.last.ID)
}

func TestGetLastUnknownUnit(t *testing.T) {
	a, _ := newTestActor(t, 8)
	go a.Serve(context.Background())

	sig, resp := NewGetLast(map[model.Group][]model.Unit{"g": {"missing"}})
	a.Inbox() <- sig
	out := <-resp
	require.Len(t, out["g"], 1)
	require.Nil(t, out["g"][0].Record)
}
