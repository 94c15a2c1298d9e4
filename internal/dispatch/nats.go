package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when the NATS connection is down.
var ErrNotConnected = errors.New("dispatch: not connected to NATS")

// Publisher is the subset of *nats.Conn the dispatcher uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each batch as a JSON message on a subject.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATS creates a dispatcher over an existing publisher.
func NewNATS(pub Publisher, subject string) *NATS {
	n := &NATS{pub: pub, subject: subject}
	if conn, ok := pub.(*nats.Conn); ok {
		n.conn = conn
	}
	return n
}

// ConnectNATS dials url and returns a dispatcher that owns the connection.
func ConnectNATS(url, subject, clientName string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewNATS(conn, subject), nil
}

// Subject returns the subject batches are published on.
func (n *NATS) Subject() string {
	return n.subject
}

// Dispatch implements Dispatcher.
func (n *NATS) Dispatch(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.conn != nil && !n.conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch %s: %w", b.CohortID, err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish batch %s: %w", b.CohortID, err)
	}
	return nil
}

// Close flushes pending messages and closes a connection opened by
// ConnectNATS. It is a no-op for other publishers.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
