package queue

import (
	"chat-gateway/contract"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

var _ contract.Publisher = (*NatsPublisher)(nil)

// natsConn is the part of *nats.Conn the publisher relies on.
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
	IsConnected() bool
}

// NatsPublisher hands push requests to NATS. Delivery is fire-and-forget.
type NatsPublisher struct {
	conn natsConn
	log  *slog.Logger
}

// Connect dials the queue. A failure here is meant to stop the process.
func Connect(url string, log *slog.Logger) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("chat-gateway"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from nats", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to nats", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info("Connected to nats", "url", nc.ConnectedUrl())
	return newNatsPublisher(nc, log), nil
}

func newNatsPublisher(conn natsConn, log *slog.Logger) *NatsPublisher {
	return &NatsPublisher{conn: conn, log: log}
}

func (p *NatsPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish on %s: %w", topic, err)
	}
	p.log.Debug("Published", "topic", topic, "bytes", len(payload))
	return nil
}

func (p *NatsPublisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close flushes pending publishes then closes the connection.
func (p *NatsPublisher) Close() error {
	return p.conn.Drain()
}
