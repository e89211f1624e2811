package log

// MultiLogger fans capture events out to several loggers, typically a
// SlogAdapter for the console and a FileLogger for the capture file.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers. Nil entries and NoopLoggers are dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	sinks := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		switch l.(type) {
		case nil, NoopLogger, *NoopLogger:
			continue
		}
		sinks = append(sinks, l)
	}
	return &MultiLogger{sinks: sinks}
}

// Log implements Logger.
func (m *MultiLogger) Log(event Event) {
	for _, sink := range m.sinks {
		sink.Log(event)
	}
}

// Len returns the number of sinks.
func (m *MultiLogger) Len() int {
	return len(m.sinks)
}

var _ Logger = (*MultiLogger)(nil)
