package payment

import (
	"context"

	"github.com/rs/zerolog"
)

// Severity classifies audit sink entries.
type Severity string

const (
	// SeverityAudit marks the unconditional record of every inbound notification.
	SeverityAudit Severity = "audit"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Entry is a single write to the audit sink.
type Entry struct {
	Provider string
	Endpoint Endpoint
	Severity Severity
	Message  string
	Data     map[string]any
}

// Sink is a write-only side channel for notification diagnostics. Implementations
// must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// LogSink writes entries through zerolog.
type LogSink struct {
	Logger zerolog.Logger
}

// Record implements Sink.
func (s LogSink) Record(_ context.Context, e Entry) {
	var evt *zerolog.Event
	switch e.Severity {
	case SeverityError:
		evt = s.Logger.Error()
	case SeverityWarn:
		evt = s.Logger.Warn()
	case SeverityAudit:
		// Level-less so logger level filtering never drops the record.
		evt = s.Logger.Log()
	default:
		evt = s.Logger.Info()
	}
	evt = evt.Str("severity", string(e.Severity)).
		Str("provider", e.Provider).
		Str("endpoint", string(e.Endpoint))
	if e.Severity == SeverityAudit {
		evt = evt.Bool("audit", true)
	}
	if len(e.Data) > 0 {
		evt = evt.Interface("data", e.Data)
	}
	evt.Msg(e.Message)
}

// NopSink discards all entries.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Entry) {}
