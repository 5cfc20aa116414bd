package metrics

import (
	"io"
	"sync"
	"time"

	"github.com/francoispqt/gojay"
)

// EventType names an entry in the handshake event log.
type EventType string

const (
	EventHandshakeStart   EventType = "handshake_started"
	EventHandshakeEnd     EventType = "handshake_finished"
	EventStateChange      EventType = "state_changed"
	EventRetry            EventType = "handshake_suspended"
	EventAlertSent        EventType = "alert_sent"
	EventResumption       EventType = "session_resumed"
	EventTicketIssued     EventType = "ticket_issued"
	EventPremasterReplace EventType = "rsa_premaster_substituted"
	EventRateLimited      EventType = "handshake_rate_limited"
)

// Event is one entry of the event log. Only the fields relevant to the
// event type are written.
type Event struct {
	Time  time.Time
	Type  EventType
	Role  Role
	From  string
	To    string
	Alert string
	Error string

	Placeholder bool
	Duration    time.Duration
	ServerName  string

	// Set on EventRetry.
	Reason string

	// Set on EventHandshakeEnd.
	Outcome     string
	State       string
	Version     string
	CipherSuite string
	Resumed     bool
	Retries     int
}

var _ gojay.MarshalerJSONObject = &Event{}

func (e *Event) IsNil() bool { return e == nil }

func (e *Event) MarshalJSONObject(enc *gojay.Encoder) {
	enc.Float64Key("time", float64(e.Time.UnixNano())/1e6)
	enc.StringKey("event", string(e.Type))
	enc.StringKeyOmitEmpty("role", string(e.Role))
	switch e.Type {
	case EventStateChange:
		enc.StringKey("from", e.From)
		enc.StringKey("to", e.To)
	case EventAlertSent:
		enc.StringKey("alert", e.Alert)
	case EventTicketIssued:
		enc.BoolKey("placeholder", e.Placeholder)
	case EventRetry:
		enc.StringKey("reason", e.Reason)
	case EventHandshakeEnd:
		enc.Float64Key("duration_ms", float64(e.Duration.Nanoseconds())/1e6)
		enc.StringKeyOmitEmpty("outcome", e.Outcome)
		enc.StringKeyOmitEmpty("state", e.State)
		enc.StringKeyOmitEmpty("version", e.Version)
		enc.StringKeyOmitEmpty("cipher_suite", e.CipherSuite)
		enc.StringKeyOmitEmpty("server_name", e.ServerName)
		if e.Resumed {
			enc.BoolKey("resumed", true)
		}
		enc.IntKeyOmitEmpty("retries", e.Retries)
		enc.StringKeyOmitEmpty("alert", e.Alert)
		enc.StringKeyOmitEmpty("error", e.Error)
	case EventRateLimited:
		enc.StringKeyOmitEmpty("server_name", e.ServerName)
	}
}

// EventLog writes handshake events as newline-delimited JSON objects. It is
// safe for concurrent use; events from concurrent handshakes interleave.
type EventLog struct {
	mu      sync.Mutex
	w       io.Writer
	enc     *gojay.Encoder
	now     func() time.Time
	err     error
	written int
}

// NewEventLog writes events to w.
func NewEventLog(w io.Writer) *EventLog {
	return &EventLog{w: w, enc: gojay.NewEncoder(w), now: time.Now}
}

// Record writes ev, stamping it with the current time when Time is zero.
// After the first write error every later event is dropped; Err reports it.
func (l *EventLog) Record(ev Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	if err := l.enc.EncodeObject(&ev); err != nil {
		l.err = err
		return
	}
	if _, err := l.w.Write([]byte{'\n'}); err != nil {
		l.err = err
		return
	}
	l.written++
}

// Len returns the number of events written.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Err returns the first write error.
func (l *EventLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
