package logger

// Sink is a log transport beyond the built-in console/file writer. The CLI
// passes no sink, so the no-op default applies; a Kafka or HTTP sink would
// implement this interface but no current component drives one (see
// SPEC_FULL §2).
type Sink interface {
	Write(entry LogEntry) error
	Close() error
}

// noopSink discards every entry. It is the default when no external sink
// is configured.
type noopSink struct{}

func (noopSink) Write(LogEntry) error { return nil }
func (noopSink) Close() error         { return nil }
