package ws

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/appstronomer/umon/internal/adapter/service"
	"github.com/appstronomer/umon/internal/apperr"
	"github.com/appstronomer/umon/internal/domain/model"
	"github.com/appstronomer/umon/internal/handler/dto"
)

const firstFrameTimeout = 5 * time.Second

// Handler upgrades GET /ws and hands off to the Connection actor.
type Handler struct {
	log             *slog.Logger
	comm            *service.Comm
	db              *service.Db
	heartbeatPeriod time.Duration
	upgrader        websocket.Upgrader
}

func NewHandler(log *slog.Logger, comm *service.Comm, db *service.Db, heartbeatPeriod time.Duration) *Handler {
	return &Handler{
		log:             log,
		comm:            comm,
		db:              db,
		heartbeatPeriod: heartbeatPeriod,
		upgrader:        websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws: upgrade failed", "error", err)
		return
	}

	sess, err := h.readIntroducer(wsConn)
	if err != nil {
		h.closeUnauthorized(wsConn)
		return
	}

	if err := h.checkSession(sess.Login, model.Token(sess.Token)); err != nil {
		h.closeWithError(wsConn, err)
		return
	}

	places, err := h.wplace(sess.Login, model.Token(sess.Token))
	if err != nil {
		h.closeWithError(wsConn, err)
		return
	}

	c := newConnection(h.log, wsConn, sess.Login, model.Token(sess.Token), h.comm, h.db, places, h.heartbeatPeriod)

	if err := h.comm.WsAdd(sess.Login, model.Token(sess.Token), c.id, c.mb); err != nil {
		h.closeWithError(wsConn, err)
		return
	}

	c.run()
}

func (h *Handler) readIntroducer(wsConn *websocket.Conn) (dto.Sess, error) {
	wsConn.SetReadDeadline(time.Now().Add(firstFrameTimeout))
	defer wsConn.SetReadDeadline(time.Time{})

	_, data, err := wsConn.ReadMessage()
	if err != nil {
		return dto.Sess{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return dto.Sess{}, err
	}
	var sess dto.Sess
	if err := json.Unmarshal(raw, &sess); err != nil {
		return dto.Sess{}, err
	}
	return sess, nil
}

func (h *Handler) checkSession(login string, token model.Token) error {
	return h.comm.SessionCheck(login, token)
}

func (h *Handler) wplace(login string, token model.Token) (map[model.Group][]model.Unit, error) {
	return h.comm.WplaceGet(login, token)
}

func (h *Handler) closeUnauthorized(wsConn *websocket.Conn) {
	_ = wsConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(apperr.WSCloseUnauthorized, "Unauthorized"),
		time.Now().Add(time.Second))
	wsConn.Close()
}

// closeWithError maps err to its WS close code (§6: 3000 on a session
// mismatch, 1012 "Service Restart" when an actor could not be reached at
// all) rather than always closing as unauthorized.
func (h *Handler) closeWithError(wsConn *websocket.Conn, err error) {
	_ = wsConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(apperr.WSCloseCode(err), "error"),
		time.Now().Add(time.Second))
	wsConn.Close()
}
