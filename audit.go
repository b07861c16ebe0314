package authcore

import (
	"io"
	"log/slog"

	"github.com/Bidiche49/art-des-jardins-sub001/internal/audit"
)

// AuditEvent is one security-relevant record emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's background dispatcher.
// Emit must not retain ctx beyond the call.
type AuditSink = audit.Sink

type AuditSeverity = audit.Severity

const (
	AuditSeverityInfo     = audit.SeverityInfo
	AuditSeverityWarning  = audit.SeverityWarning
	AuditSeverityCritical = audit.SeverityCritical
)

type NoOpSink = audit.NoOpSink

type ChannelSink = audit.ChannelSink

type JSONWriterSink = audit.JSONWriterSink

type SlogSink = audit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs each event through logger; critical events log at error.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
