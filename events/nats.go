// Package events publishes ledger events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/warp/credit-ledger/credit"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject,
// e.g. "credit.record.created".
const DefaultSubjectPrefix = "credit"

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher is a credit.Publisher on NATS core subjects.
type Publisher struct {
	conn   Conn
	prefix string
	log    zerolog.Logger
}

var _ credit.Publisher = (*Publisher)(nil)

func NewPublisher(conn Conn, prefix string, log zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, log: log.With().Str("component", "events").Logger()}
}

// Connect dials NATS and wraps the connection.
func Connect(url, prefix string, log zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("credit-ledger"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisher(nc, prefix, log), nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t credit.EventType) string {
	return p.prefix + "." + string(t)
}

// Publish encodes the event as JSON and publishes it.
func (p *Publisher) Publish(_ context.Context, ev credit.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.log.Debug().Str("subject", p.Subject(ev.Type)).Str("event_id", ev.ID).Msg("event published")
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.conn.FlushWithContext(ctx); err != nil {
		p.log.Warn().Err(err).Msg("flush before close failed")
	}
	return p.conn.Drain()
}
