package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"ecocredit.org/internal/obs"
)

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATS forwards events to <prefix>.<event type> subjects for consumers outside
// this process. Publishing is fire-and-forget; failures are logged.
type NATS struct {
	conn   natsConn
	prefix string
}

func NewNATS(conn natsConn, prefix string) *NATS {
	return &NATS{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// DialNATS connects to url. The returned close function drains pending publishes.
func DialNATS(url, prefix string) (*NATS, func() error, error) {
	nc, err := nats.Connect(url,
		nats.Name("ecocredit-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATS(nc, prefix), nc.Drain, nil
}

func (n *NATS) Subject(eventType string) string {
	return n.prefix + "." + eventType
}

func (n *NATS) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		obs.Logger().Warn("encode event", slog.String("type", evt.Type), slog.String("error", err.Error()))
		return
	}
	if err := n.conn.Publish(n.Subject(evt.Type), data); err != nil {
		obs.Logger().Warn("nats publish failed",
			slog.String("subject", n.Subject(evt.Type)),
			slog.String("error", err.Error()))
	}
}

// Fanout publishes every event to each non-nil publisher in order.
func Fanout(ps ...Publisher) Publisher {
	out := make(multi, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

type multi []Publisher

func (m multi) Publish(evt Event) {
	for _, p := range m {
		p.Publish(evt)
	}
}
