// Package mailbox implements the per-connection coalescing secondary channel
// between the routing actor and a WebSocket writer: a pull-driven queue that
// coalesces bursty updates into a single (group,unit)->Record map and
// delivers control signals (Close, Tick, Pong) ahead of data.
package mailbox

import (
	"sync"

	"github.com/appstronomer/umon/internal/domain/model"
)

// key identifies a coalescing slot.
type key struct {
	Group model.Group
	Unit  model.Unit
}

// OutKind discriminates the signal handed back to Recv.
type OutKind uint8

const (
	OutClose OutKind = iota
	OutTick
	OutPong
	OutData
	OutDataMap
)

// Out is the signal delivered to the consumer (Connection actor) on Recv.
type Out struct {
	Kind    OutKind
	Pong    uint64
	Group   model.Group
	Unit    model.Unit
	Record  model.Record[model.Update]
	DataMap map[string]recordAt // keyed by "group\x00unit"
}

type recordAt struct {
	Group  model.Group
	Unit   model.Unit
	Record model.Record[model.Update]
}

// Mailbox is the coalescing secondary channel. Producers (the Comm routing
// actor) call Send* methods; exactly one consumer goroutine calls Recv in a
// loop. Both directions are internally synchronized with a mutex plus a
// single-slot wake channel, matching the "both in/out channels hold at most
// one pending message" capacity rule: only one Recv call may be outstanding
// at a time, enforced by the caller owning the consumer side exclusively.
type Mailbox struct {
	mu sync.Mutex

	closed      bool
	tickPending bool
	pongPending *uint64
	coalesced   map[key]model.Record[model.Update]

	wakeCh chan struct{}
}

func New() *Mailbox {
	return &Mailbox{
		wakeCh: make(chan struct{}, 1),
	}
}

func (m *Mailbox) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// SendData delivers a Single or Multi payload, overwriting the coalescing
// map for every (group,unit) key it touches. Later writes win.
func (m *Mailbox) SendData(d model.Data[model.Record[model.Update]]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.coalesced == nil {
		m.coalesced = make(map[key]model.Record[model.Update])
	}
	switch d.Kind {
	case model.DataKindSingle:
		m.coalesced[key{d.Group, d.Unit}] = d.Val
	case model.DataKindMulti:
		for _, g := range d.Groups {
			for _, uv := range g.Units {
				m.coalesced[key{g.Group, uv.Unit}] = uv.Val
			}
		}
	}
	m.wake()
}

// SendTick delivers a heartbeat nudge, coalescing with any pending tick.
func (m *Mailbox) SendTick() {
	m.mu.Lock()
	m.tickPending = true
	m.mu.Unlock()
	m.wake()
}

// SendPong delivers a pong value from the reader loop. Two unread pongs
// before a drain indicates a protocol violation by the producer and closes
// the mailbox rather than silently dropping one.
func (m *Mailbox) SendPong(v uint64) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.pongPending != nil {
		m.closed = true
		m.mu.Unlock()
		m.wake()
		return
	}
	m.pongPending = &v
	m.mu.Unlock()
	m.wake()
}

// SendClose marks the mailbox closed; the next Recv (or one already parked)
// observes it with top priority.
func (m *Mailbox) SendClose() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// Recv blocks until exactly one signal is available, then returns it,
// honoring priority order: Close > Tick > Pong > Data/DataMap.
func (m *Mailbox) Recv() Out {
	for {
		if out, ok := m.tryDrain(); ok {
			return out
		}
		<-m.wakeCh
	}
}

func (m *Mailbox) tryDrain() (Out, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Out{Kind: OutClose}, true
	}
	if m.tickPending {
		m.tickPending = false
		return Out{Kind: OutTick}, true
	}
	if m.pongPending != nil {
		v := *m.pongPending
		m.pongPending = nil
		return Out{Kind: OutPong, Pong: v}, true
	}
	if len(m.coalesced) > 0 {
		if len(m.coalesced) == 1 {
			for k, r := range m.coalesced {
				out := Out{Kind: OutData, Group: k.Group, Unit: k.Unit, Record: r}
				m.coalesced = nil
				return out, true
			}
		}
		dm := make(map[string]recordAt, len(m.coalesced))
		for k, r := range m.coalesced {
			dm[string(k.Group)+"\x00"+string(k.Unit)] = recordAt{Group: k.Group, Unit: k.Unit, Record: r}
		}
		m.coalesced = nil
		return Out{Kind: OutDataMap, DataMap: dm}, true
	}
	return Out{}, false
}
