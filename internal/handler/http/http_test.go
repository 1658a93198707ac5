package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/appstronomer/umon/internal/adapter/service"
	"github.com/appstronomer/umon/internal/domain/comm"
	"github.com/appstronomer/umon/internal/domain/db"
	"github.com/appstronomer/umon/internal/domain/model"
	"github.com/appstronomer/umon/internal/handler/dto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCreds struct{ ok bool }

func (f fakeCreds) Authenticate(login, password string) bool { return f.ok }

func newTestHandler(t *testing.T, creds Credentials) (*Handler, chan comm.Signal, chan db.Signal) {
	t.Helper()
	commInbox := make(chan comm.Signal, 8)
	dbInbox := make(chan db.Signal, 8)
	h := NewHandler(testLogger(), service.NewComm(testLogger(), commInbox), service.NewDb(testLogger(), dbInbox), creds, t.TempDir())
	return h, commInbox, dbInbox
}

func TestHandleLoginSuccess(t *testing.T) {
	h, commInbox, _ := newTestHandler(t, fakeCreds{ok: true})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	go func() {
		sig := <-commInbox
		sig.RespMake <- comm.SessionMakeResult{Token: "abc123"}
	}()

	body, _ := json.Marshal(dto.Auth{Login: "alice", Password: "secret"})
	resp, err := http.Post(srv.URL+"/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	require.NoError(t, err)
	var sess dto.Sess
	require.NoError(t, json.Unmarshal(decoded, &sess))
	require.Equal(t, "alice", sess.Login)
	require.Equal(t, "abc123", sess.Token)
}

func TestHandleLoginBadCredentials(t *testing.T) {
	h, _, _ := newTestHandler(t, fakeCreds{ok: false})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body, _ := json.Marshal(dto.Auth{Login: "alice", Password: "wrong"})
	resp, err := http.Post(srv.URL+"/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleHistRejectsOversizedSpan(t *testing.T) {
	h, commInbox, _ := newTestHandler(t, fakeCreds{ok: true})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	go func() {
		for sig := range commInbox {
			if sig.RespUnit != nil {
				sig.RespUnit <- nil
			}
		}
	}()

	sess, _ := json.Marshal(dto.Sess{Login: "alice", Token: "tok"})
	header := base64.StdEncoding.EncodeToString(sess)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hist?i=0&a=999&g=g&u=u", nil)
	req.Header.Set("sess", header)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWplaceMissingSessHeader(t *testing.T) {
	h, _, _ := newTestHandler(t, fakeCreds{ok: true})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/wplace")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWplaceLastReturnsSnapshot(t *testing.T) {
	h, commInbox, dbInbox := newTestHandler(t, fakeCreds{ok: true})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	go func() {
		sig := <-commInbox
		sig.RespWplace <- comm.WplaceResult{Places: map[model.Group][]model.Unit{"g": {"u"}}}
	}()
	go func() {
		sig := <-dbInbox
		sig.RespLast <- map[model.Group][]db.UnitLast{"g": {{Unit: "u"}}}
	}()

	sess, _ := json.Marshal(dto.Sess{Login: "alice", Token: "tok"})
	header := base64.StdEncoding.EncodeToString(sess)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/wplace-last", nil)
	req.Header.Set("sess", header)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded["g"], 1)

	var tuple []any
	require.NoError(t, json.Unmarshal(decoded["g"][0], &tuple))
	require.Len(t, tuple, 2)
	require.Equal(t, "u", tuple[0])
	require.Nil(t, tuple[1])
}

