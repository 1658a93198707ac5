package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/appstronomer/umon/internal/domain/comm"
	"github.com/appstronomer/umon/internal/domain/db"
	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommSessionCheckRoundtrips(t *testing.T) {
	inbox := make(chan comm.Signal, 1)
	c := NewComm(testLogger(), inbox)
	c.timeout = time.Second

	go func() {
		sig := <-inbox
		sig.RespCheck <- nil
	}()

	require.NoError(t, c.SessionCheck("alice", "tok"))
}

func TestCommSessionCheckUnreached(t *testing.T) {
	inbox := make(chan comm.Signal) // unbuffered, nothing ever reads
	c := NewComm(testLogger(), inbox)
	c.timeout = 10 * time.Millisecond

	err := c.SessionCheck("alice", "tok")
	require.Error(t, err)
}

func TestCommWsAddRoundtrips(t *testing.T) {
	inbox := make(chan comm.Signal, 1)
	c := NewComm(testLogger(), inbox)
	c.timeout = time.Second

	go func() {
		sig := <-inbox
		sig.RespWs <- comm.WsAddResult{OK: true}
	}()

	err := c.WsAdd("alice", "tok", uuid.New(), mailbox.New())
	require.NoError(t, err)
}

func TestDbGetRangeRoundtrips(t *testing.T) {
	inbox := make(chan db.Signal, 1)
	d := NewDb(testLogger(), inbox)
	d.timeout = time.Second

	want := []model.Record[model.Update]{{ID: 0, Val: model.UpdateOnline()}}
	go func() {
		sig := <-inbox
		sig.RespRange <- db.RangeResult{Records: want}
	}()

	records, err := d.GetRange("g", "u", 0, 10)
	require.NoError(t, err)
	require.Equal(t, want, records)
}

func TestDbIngestIsFireAndForget(t *testing.T) {
	inbox := make(chan db.Signal, 1)
	d := NewDb(testLogger(), inbox)
	d.timeout = time.Second

	d.Ingest(model.DataSingle[model.Update]("g", "u", model.UpdateOnline()))

	sig := <-inbox
	require.Equal(t, db.SignalIngest, sig.Kind)
}
