// Package ws implements the Connection actor (§4.4) and its WebSocket
// upgrade entrypoint: one goroutine pair (reader + serve loop) per client,
// bridging the per-connection coalescing mailbox to a gorilla/websocket
// connection.
package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/appstronomer/umon/internal/adapter/service"
	"github.com/appstronomer/umon/internal/domain/mailbox"
	"github.com/appstronomer/umon/internal/domain/model"
	"github.com/appstronomer/umon/internal/handler/dto"
)

const (
	writeTimeout     = 5 * time.Second
	heartbeatDefault = 5 * time.Second
)

// connection is one per-client Connection actor.
type connection struct {
	log   *slog.Logger
	ws    *websocket.Conn
	mb    *mailbox.Mailbox
	login string
	token model.Token
	id    uuid.UUID

	comm *service.Comm
	db   *service.Db

	pubtop map[model.Group][]model.Unit

	heartbeatPeriod time.Duration
	ping            uint64
	pong            *uint64
}

func newConnection(
	log *slog.Logger, wsConn *websocket.Conn, login string, token model.Token,
	comm *service.Comm, db *service.Db,
	pubtop map[model.Group][]model.Unit, heartbeatPeriod time.Duration,
) *connection {
	return &connection{
		log:             log,
		ws:              wsConn,
		mb:              mailbox.New(),
		login:           login,
		token:           token,
		id:              uuid.New(),
		comm:            comm,
		db:              db,
		pubtop:          pubtop,
		heartbeatPeriod: heartbeatPeriod,
	}
}

// run executes the full startup sequence and serve loop (§4.4), blocking
// until the connection closes. Call on its own goroutine.
func (c *connection) run() {
	defer c.destruct()

	snapshot, err := c.fetchSnapshot()
	if err != nil {
		c.log.Error("ws: snapshot fetch failed", "login", c.login, "error", err)
		return
	}
	if err := c.writeJSON(dto.NewOutConnected(snapshot)); err != nil {
		return
	}
	if err := c.writeJSON(dto.NewOutPing(0)); err != nil {
		return
	}

	go c.readLoop()
	stopTicker := c.startHeartbeat()
	defer stopTicker()

	c.serveLoop()
}

func (c *connection) fetchSnapshot() (map[string][]dto.SnapshotUnit, error) {
	want := make(map[model.Group][]model.Unit, len(c.pubtop))
	for g, units := range c.pubtop {
		want[g] = units
	}
	result, err := c.db.GetLast(want)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]dto.SnapshotUnit, len(result))
	for g, list := range result {
		units := make([]dto.SnapshotUnit, 0, len(list))
		for _, ul := range list {
			su := dto.SnapshotUnit{Unit: string(ul.Unit)}
			if ul.Record != nil {
				r := dto.NewDtoRecord(g, ul.Unit, *ul.Record)
				su.Record = &r
			}
			units = append(units, su)
		}
		out[string(g)] = units
	}
	return out, nil
}

func (c *connection) startHeartbeat() func() {
	period := c.heartbeatPeriod
	if period <= 0 {
		period = heartbeatDefault
	}
	ticker := time.NewTicker(period)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				c.mb.SendTick()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// readLoop parses inbound pong frames and forwards them to the mailbox.
// Frames that are not pongs are ignored. A read error treats the socket as
// gone and closes the mailbox.
func (c *connection) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mb.SendClose()
			return
		}
		var in dto.InPong
		if err := json.Unmarshal(data, &in); err != nil || in.T != dto.InTagPong {
			continue
		}
		c.mb.SendPong(in.V)
	}
}

// serveLoop reads from the mailbox and acts on each signal per §4.4.
func (c *connection) serveLoop() {
	for {
		out := c.mb.Recv()
		switch out.Kind {
		case mailbox.OutClose:
			return
		case mailbox.OutTick:
			if c.pong != nil && *c.pong == c.ping {
				c.pong = nil
				c.ping++
				if err := c.writeJSON(dto.NewOutPing(c.ping)); err != nil {
					return
				}
			} else {
				return
			}
		case mailbox.OutPong:
			v := out.Pong
			c.pong = &v
		case mailbox.OutData:
			rec := dto.NewDtoRecord(out.Group, out.Unit, out.Record)
			if err := c.writeJSON(dto.NewOutData([]dto.DtoRecord{rec})); err != nil {
				return
			}
		case mailbox.OutDataMap:
			records := make([]dto.DtoRecord, 0, len(out.DataMap))
			for _, ra := range out.DataMap {
				records = append(records, dto.NewDtoRecord(ra.Group, ra.Unit, ra.Record))
			}
			if err := c.writeJSON(dto.NewOutData(records)); err != nil {
				return
			}
		}
	}
}

func (c *connection) writeJSON(v any) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// destruct implements §4.4's teardown: signal the mailbox closed, close the
// transport, and notify the routing actor so it drops the mailbox handle.
func (c *connection) destruct() {
	c.mb.SendClose()
	code := websocket.CloseNormalClosure
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	c.ws.Close()
	c.comm.NotifyConnClosed(c.login, c.token, c.id)
}
