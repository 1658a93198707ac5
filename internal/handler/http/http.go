// Package http implements the HTTP control-plane façade (§6): login,
// workspace-placement queries, and historical lookups, all thin adapters
// into the Comm/DB actors via the service adapter layer, grounded on the
// original's server.rs route/handler functions.
package http

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/appstronomer/umon/internal/adapter/service"
	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/comm"
	"github.com/appstronomer/umon/internal/domain/model"
	"github.com/appstronomer/umon/internal/handler/dto"
)

const (
	loginBodyLimit = 2 * 1024
	histMaxSpan    = 100
)

// Credentials is the subset of internal/config's Credentials the façade
// needs, kept as an interface so this package doesn't import config.
type Credentials interface {
	Authenticate(login, password string) bool
}

type Handler struct {
	log          *slog.Logger
	comm         *service.Comm
	db           *service.Db
	creds        Credentials
	workspaceDir string
}

func NewHandler(log *slog.Logger, comm *service.Comm, db *service.Db, creds Credentials, workspaceDir string) *Handler {
	return &Handler{log: log, comm: comm, db: db, creds: creds, workspaceDir: workspaceDir}
}

// Mount registers the façade's routes on r (the WS route is registered by
// the caller via the ws package's own handler, kept separate per DESIGN.md).
func (h *Handler) Mount(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Get("/wplace", h.handleWplace)
	r.Get("/wplace-last", h.handleWplaceLast)
	r.Get("/hist", h.handleHist)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, loginBodyLimit+1))
	if err != nil || len(body) > loginBodyLimit {
		writeErr(w, apperr.New(apperr.BadRequest, "body too large"))
		return
	}
	var auth dto.Auth
	if err := json.Unmarshal(body, &auth); err != nil {
		writeErr(w, apperr.New(apperr.BadRequest, "malformed login body"))
		return
	}
	if !h.creds.Authenticate(auth.Login, auth.Password) {
		writeErr(w, apperr.New(apperr.Unauthorized, "bad credentials"))
		return
	}

	res, err := h.comm.SessionMake(auth.Login, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.WorkspaceRequired {
		place, err := h.loadWorkspacePlace(auth.Login)
		if err != nil {
			writeErr(w, apperr.Wrap(apperr.NotFound, err))
			return
		}
		res, err = h.comm.SessionMake(auth.Login, place)
		if err != nil {
			writeErr(w, err)
			return
		}
		if res.WorkspaceRequired {
			writeErr(w, apperr.New(apperr.Internal, "session mint failed after workspace load"))
			return
		}
	}

	token := base64.StdEncoding.EncodeToString(mustJSON(dto.Sess{Login: auth.Login, Token: string(res.Token)}))
	w.Write([]byte(token))
}

// loadWorkspacePlace reads <workspaceDir>/<login>.json, the per-login
// workspace placement file, the way the original loads its named workspace
// definition on the "workspace required" retry path.
func (h *Handler) loadWorkspacePlace(login string) (*comm.WorkspacePlace, error) {
	path := filepath.Join(h.workspaceDir, login+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Name   string                        `json:"name"`
		Pubtop map[model.Group][]model.Unit `json:"pubtop"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &comm.WorkspacePlace{Name: doc.Name, Pubtop: doc.Pubtop}, nil
}

func (h *Handler) handleWplace(w http.ResponseWriter, r *http.Request) {
	login, token, err := sessionFromHeader(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	places, err := h.comm.WplaceGet(login, token)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, places)
}

func (h *Handler) handleWplaceLast(w http.ResponseWriter, r *http.Request) {
	login, token, err := sessionFromHeader(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	places, err := h.comm.WplaceGet(login, token)
	if err != nil {
		writeErr(w, err)
		return
	}

	last, err := h.db.GetLast(places)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make(map[string][]dto.SnapshotUnit, len(last))
	for g, list := range last {
		units := make([]dto.SnapshotUnit, 0, len(list))
		for _, ul := range list {
			ent := dto.SnapshotUnit{Unit: string(ul.Unit)}
			if ul.Record != nil {
				r := dto.NewDtoRecordHist(*ul.Record)
				ent.Record = &r
			}
			units = append(units, ent)
		}
		out[string(g)] = units
	}
	writeJSON(w, out)
}

func (h *Handler) handleHist(w http.ResponseWriter, r *http.Request) {
	login, token, err := sessionFromHeader(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	q := r.URL.Query()
	min, err1 := strconv.ParseUint(q.Get("i"), 10, 64)
	max, err2 := strconv.ParseUint(q.Get("a"), 10, 64)
	group := model.Group(q.Get("g"))
	unit := model.Unit(q.Get("u"))
	if err1 != nil || err2 != nil || max < min || max-min >= histMaxSpan {
		writeErr(w, apperr.New(apperr.BadRequest, "invalid hist range"))
		return
	}

	if err := h.comm.UnitCheck(login, token, group, unit); err != nil {
		writeErr(w, err)
		return
	}

	records, err := h.db.GetRange(group, unit, min, max)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]dto.DtoRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, dto.NewDtoRecordHist(rec))
	}
	writeJSON(w, out)
}

func sessionFromHeader(r *http.Request) (string, model.Token, error) {
	raw := r.Header.Get("sess")
	if raw == "" {
		return "", "", apperr.New(apperr.Unauthorized, "missing sess header")
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", "", apperr.New(apperr.Unauthorized, "malformed sess header")
	}
	var sess dto.Sess
	if err := json.Unmarshal(decoded, &sess); err != nil {
		return "", "", apperr.New(apperr.Unauthorized, "malformed sess header")
	}
	return sess.Login, model.Token(sess.Token), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	w.WriteHeader(apperr.Status(err))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
