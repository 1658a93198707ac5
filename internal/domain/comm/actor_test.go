package comm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestActor(t *testing.T, duration time.Duration) *Actor {
	t.Helper()
	a := New(testLogger(), duration, func(login, password string) bool { return true })
	go a.Serve()
	return a
}

func makeSession(t *testing.T, a *Actor, login, wsName string, pubtop map[model.Group][]model.Unit) model.Token {
	t.Helper()
	sig, resp := NewSessionMake(login, &WorkspacePlace{Name: wsName, Pubtop: pubtop})
	a.Inbox() <- sig
	res := <-resp
	require.False(t, res.WorkspaceRequired)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func attachConn(t *testing.T, a *Actor, login string, token model.Token) (*mailbox.Mailbox, uuid.UUID) {
	t.Helper()
	mb := mailbox.New()
	id := uuid.New()
	sig, resp := NewWsAdd(login, token, id, mb)
	a.Inbox() <- sig
	res := <-resp
	require.True(t, res.OK)
	return mb, id
}

func TestMultiWorkspaceFanOut(t *testing.T) {
	a := newTestActor(t, time.Minute)
	pubtop := map[model.Group][]model.Unit{"g": {"u"}}

	tok1 := makeSession(t, a, "alice", "ws1", pubtop)
	tok2 := makeSession(t, a, "bob", "ws2", pubtop)
	mb1, _ := attachConn(t, a, "alice", tok1)
	mb2, _ := attachConn(t, a, "bob", tok2)

	rec := model.Record[model.Update]{ID: 1, Time: 0, IsSaved: true, Val: model.UpdateOnline()}
	a.Inbox() <- NewFromDB(model.DataSingle(model.Group("g"), model.Unit("u"), rec))

	out1 := mb1.Recv()
	require.Equal(t, mailbox.OutData, out1.Kind)
	require.Equal(t, uint64(1), out1.Record.ID)

	out2 := mb2.Recv()
	require.Equal(t, mailbox.OutData, out2.Kind)
	require.Equal(t, uint64(1), out2.Record.ID)
}

func TestFanOutRespectsAuthorization(t *testing.T) {
	a := newTestActor(t, time.Minute)
	tok := makeSession(t, a, "alice", "ws1", map[model.Group][]model.Unit{"g": {"u"}})
	mb, _ := attachConn(t, a, "alice", tok)

	rec := model.Record[model.Update]{ID: 1, Val: model.UpdateOnline()}
	a.Inbox() <- NewFromDB(model.DataSingle(model.Group("g"), model.Unit("other"), rec))

	done := make(chan mailbox.Out, 1)
	go func() { done <- mb.Recv() }()
	select {
	case <-done:
		t.Fatal("mailbox received an unauthorized record")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSessionExpiryThenUnauthorized(t *testing.T) {
	a := newTestActor(t, 40*time.Millisecond)
	tok := makeSession(t, a, "alice", "ws1", map[model.Group][]model.Unit{"g": {"u"}})

	require.Eventually(t, func() bool {
		sig, resp := NewSessionCheck("alice", tok)
		a.Inbox() <- sig
		return <-resp != nil
	}, time.Second, 5*time.Millisecond)
}

func TestSessionCheckExtendsDeadline(t *testing.T) {
	a := newTestActor(t, 80*time.Millisecond)
	tok := makeSession(t, a, "alice", "ws1", map[model.Group][]model.Unit{"g": {"u"}})

	time.Sleep(50 * time.Millisecond)
	sig, resp := NewSessionCheck("alice", tok)
	a.Inbox() <- sig
	require.NoError(t, <-resp)

	time.Sleep(50 * time.Millisecond)
	sig2, resp2 := NewSessionCheck("alice", tok)
	a.Inbox() <- sig2
	require.NoError(t, <-resp2)
}
