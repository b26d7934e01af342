package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes decision events as JSON messages on a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to the NATS server at url and publishes events on
// subject.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		subject = "policykit.decisions"
	}
	conn, err := nats.Connect(url, nats.Name("policykit-audit"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Publish sends the event. The message is fire-and-forget; delivery is not
// awaited.
func (s *NATSSink) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
