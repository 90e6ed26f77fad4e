// Package events publishes goto events to an optional NATS subject.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/logger"
)

// GotoEvent describes one successful resolution
type GotoEvent struct {
	ShortID string    `json:"short_id"`
	LongURL string    `json:"long_url"`
	Source  string    `json:"source"`
	At      time.Time `json:"at"`
}

// Publisher sends goto events somewhere
type Publisher interface {
	Publish(ctx context.Context, evt GotoEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no NATS URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, GotoEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// NATSPublisher publishes JSON encoded events on a single subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *logger.Logger
}

// NewPublisher returns a NATS publisher when cfg names a server and a
// NopPublisher otherwise.
func NewPublisher(cfg *config.EventsConfig, serviceName string, log *logger.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return NopPublisher{}, nil
	}
	return NewNATSPublisher(cfg.NATSURL, cfg.Subject, serviceName, log)
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url, subject, name string, log *logger.Logger) (*NATSPublisher, error) {
	log = log.Component("events")

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("publishing goto events", "url", nc.ConnectedUrl(), "subject", subject)
	return &NATSPublisher{conn: nc, subject: subject, log: log}, nil
}

// Publish encodes evt and hands it to the NATS client buffer
func (p *NATSPublisher) Publish(ctx context.Context, evt GotoEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal goto event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish goto event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
