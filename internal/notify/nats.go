package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// DefaultNATSSubject is used when no subject is configured
const DefaultNATSSubject = "arbiter.notifications"

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications as JSON on a NATS subject.
type NATSNotifier struct {
	conn    natsPublisher
	subject string
	drain   func() error
}

var _ moderation.Notifier = (*NATSNotifier)(nil)

// NewNATSNotifier connects to the NATS servers in url and reconnects forever.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if url == "" {
		return nil, errors.New("nats url missing")
	}
	nc, err := nats.Connect(url,
		nats.Name("arbiter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := newNATSNotifier(nc, subject)
	n.drain = nc.Drain
	return n, nil
}

func newNATSNotifier(conn natsPublisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

// Notify publishes n. The kind is appended to the subject so consumers can
// subscribe to one kind with a plain subject or to all with a wildcard.
func (n *NATSNotifier) Notify(_ context.Context, note moderation.Notification) error {
	data, err := Encode(note)
	if err != nil {
		return err
	}
	subject := n.subject + "." + string(note.Kind)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection
func (n *NATSNotifier) Close() error {
	if n.drain == nil {
		return nil
	}
	return n.drain()
}
