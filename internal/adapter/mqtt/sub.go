// Package mqtt bridges an MQTT broker into the DB actor's inbox (§4.5),
// grounded on the original's actor/sub.rs and actor/dist.rs.
package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/appstronomer/umon/internal/domain/model"
)

// Callbacks are the events a Sub reports to its owning Dist bridge.
type Callbacks struct {
	OnMessage func(unit model.Unit, payload []byte)
	OnOnline  func()
	OnOffline func()
}

// Sub is one subscriber per configured Group, owning one MQTT client
// connection. Tracks IsActive (socket currently connected) separately from
// IsOnline (perceived liveness reported to Dist), mirroring the original's
// two booleans.
type Sub struct {
	log    *slog.Logger
	group  model.Group
	broker string
	topic  string
	qos    byte
	cb     Callbacks

	client    paho.Client
	isActive  bool
	isOnline  bool
	breaker   *gobreaker.CircuitBreaker
	stop      chan struct{}
}

func NewSub(log *slog.Logger, group model.Group, broker, topic string, qos byte, cb Callbacks) *Sub {
	s := &Sub{
		log:    log,
		group:  group,
		broker: broker,
		topic:  topic,
		qos:    qos,
		cb:     cb,
		stop:   make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqtt-connect-" + string(group),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("mqtt: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Run connects and reconnects until ctx is cancelled. The outer loop retries
// init+subscribe through the circuit breaker; even on a failed attempt it
// still lets the breaker's cooldown elapse before trying again rather than
// hot-looping, matching the original's "always poll the eventloop once per
// iteration" progress guarantee in spirit (paho's client owns its own
// read/write goroutines once connected, so there is no eventloop to poll
// here).
func (s *Sub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		case <-s.stop:
			return
		default:
		}

		_, err := s.breaker.Execute(func() (any, error) {
			return nil, s.connect()
		})
		if err != nil {
			s.log.Warn("mqtt: connect failed", "group", string(s.group), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		<-ctx.Done()
		s.disconnect()
		return
	}
}

func (s *Sub) connect() error {
	opts := paho.NewClientOptions().
		AddBroker(s.broker).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOnConnectHandler(s.handleConnect).
		SetConnectionLostHandler(s.handleConnectionLost)

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	token.Wait()
	return token.Error()
}

func (s *Sub) handleConnect(client paho.Client) {
	s.isActive = true
	token := client.Subscribe(s.topic, s.qos, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.log.Error("mqtt: subscribe failed", "group", string(s.group), "topic", s.topic, "error", err)
		return
	}
	if !s.isOnline {
		s.isOnline = true
		s.cb.OnOnline()
	}
}

func (s *Sub) handleConnectionLost(client paho.Client, err error) {
	s.isActive = false
	if s.isOnline {
		s.isOnline = false
		s.cb.OnOffline()
	}
	s.log.Warn("mqtt: connection lost", "group", string(s.group), "error", err)
}

func (s *Sub) handleMessage(client paho.Client, msg paho.Message) {
	unit := unitFromTopic(s.topic, msg.Topic())
	s.cb.OnMessage(unit, msg.Payload())
}

func (s *Sub) disconnect() {
	close(s.stop)
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

// unitFromTopic extracts the single-level wildcard segment of filter from
// the concrete received topic (e.g. filter "sensors/+/value", topic
// "sensors/room1/value" -> unit "room1"), per the group's configured
// topic-to-unit mapping.
func unitFromTopic(filter, topic string) model.Unit {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range fp {
		if seg == "+" && i < len(tp) {
			return model.Unit(tp[i])
		}
		if seg == "#" && i < len(tp) {
			return model.Unit(strings.Join(tp[i:], "/"))
		}
	}
	return model.Unit(topic)
}
