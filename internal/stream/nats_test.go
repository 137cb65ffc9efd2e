package stream

import (
	"encoding/json"
	"errors"
	"testing"
)

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return c.err
}

func TestNATSPublishesPerEventSubject(t *testing.T) {
	conn := &recordingConn{}
	n := NewNATS(conn, "ecocredit.events.")

	n.Publish(Event{Type: EventActionDecided, AccountID: "u-1", ActionID: "act_1", Status: "approved"})

	if len(conn.subjects) != 1 || conn.subjects[0] != "ecocredit.events.action.decided" {
		t.Fatalf("unexpected subjects: %v", conn.subjects)
	}
	var got Event
	if err := json.Unmarshal(conn.payloads[0], &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.ActionID != "act_1" || got.Timestamp.IsZero() {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestNATSPublishErrorIsNotFatal(t *testing.T) {
	conn := &recordingConn{err: errors.New("connection closed")}
	NewNATS(conn, "x").Publish(Event{Type: EventCreditGranted})
	if len(conn.subjects) != 1 {
		t.Fatalf("expected one publish attempt, got %d", len(conn.subjects))
	}
}

func TestFanoutSkipsNil(t *testing.T) {
	s := New()
	conn := &recordingConn{}
	p := Fanout(s, nil, NewNATS(conn, "ev"))
	p.Publish(Event{Type: EventCreditRedeemed, AccountID: "u-1"})
	if len(conn.subjects) != 1 {
		t.Fatalf("expected NATS publish, got %v", conn.subjects)
	}
}
