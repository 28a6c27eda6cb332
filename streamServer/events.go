package streamServer

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// LifecycleEvent is published when a session starts, stops or fails to
// start.
type LifecycleEvent struct {
	Device  string    `json:"device"`
	Session string    `json:"session"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ev LifecycleEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(LifecycleEvent) error { return nil }

// NATSPublisher sends lifecycle events as JSON on one subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) Publish(ev LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}
