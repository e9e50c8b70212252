package logging

import (
	"io"
	"log"
	"os"
)

// Logger is a leveled wrapper around the standard logger.
// Messages are written as "<date> <time> <prefix>[LEVEL] msg".
type Logger struct {
	l *log.Logger
}

// New returns a Logger writing to w. prefix is typically the run id.
func New(w io.Writer, prefix string) *Logger {
	if prefix != "" {
		prefix += " "
	}
	return &Logger{l: log.New(w, prefix, log.Ldate|log.Ltime|log.Lmsgprefix)}
}

// Default writes to stdout without a prefix.
func Default() *Logger {
	return New(os.Stdout, "")
}

// Discard drops every message.
func Discard() *Logger {
	return New(io.Discard, "")
}

func (lg *Logger) Infof(format string, args ...interface{}) {
	lg.l.Printf("[INFO] "+format, args...)
}

func (lg *Logger) Warnf(format string, args ...interface{}) {
	lg.l.Printf("[WARN] "+format, args...)
}

func (lg *Logger) Errorf(format string, args ...interface{}) {
	lg.l.Printf("[ERROR] "+format, args...)
}
