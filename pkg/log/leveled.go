package log

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Leveled adapts a zerolog logger to the key/value leveled logger interface
// used by HTTP client libraries. Requests are logged one level lower than
// the client asks for, since retries are routine on device networks.
type Leveled struct {
	logger zerolog.Logger
}

// NewLeveled wraps logger
func NewLeveled(logger zerolog.Logger) *Leveled {
	return &Leveled{logger: logger}
}

func (l *Leveled) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Warn(), msg, keysAndValues)
}

func (l *Leveled) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Trace(), msg, keysAndValues)
}

func (l *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.logger.Info(), msg, keysAndValues)
}

func (l *Leveled) emit(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	e.Msg(msg)
}
