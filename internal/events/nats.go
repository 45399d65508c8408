package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix roots the NATS subjects: events go to
// "<prefix>.<kind>".
const DefaultSubjectPrefix = "burstrun"

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSSink publishes events as JSON messages.
type NATSSink struct {
	conn   publisher
	prefix string
}

// DialNATS connects to the NATS server at url.
func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("burstrun"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return newNATSSink(nc, prefix), nil
}

func newNATSSink(conn publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of kind k is published on.
func (s *NATSSink) Subject(k Kind) string {
	return s.prefix + "." + string(k)
}

// Publish implements Sink.
func (s *NATSSink) Publish(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.Subject(ev.Kind), b)
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
