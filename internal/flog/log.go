// Package flog provides the fuzzer's subsystem-tagged logging, built
// directly on the standard log package the way cmd/sentra/main.go and
// internal/concurrency used it in the teacher repo. No structured
// logging library (logrus/zap/zerolog) appears anywhere in the
// retrieval pack, so stdlib log stays the ambient choice here too.
package flog

import (
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// subsystemColor, when stderr is a real terminal, wraps the bracketed
// subsystem tag in ANSI dim so it stands out from the message body.
// Piped/redirected output (CI logs, `> file`) gets plain text.
var subsystemColor = isatty.IsTerminal(os.Stderr.Fd())

// Logger tags every line with a bracketed subsystem name, mirroring
// the "[driver]", "[orchestrator]"-style prefixes used informally
// across the teacher's internal packages.
type Logger struct {
	subsystem string
	std       *log.Logger
}

// New returns a Logger writing to stderr with microsecond timestamps,
// the same flag set cmd/sentra/main.go's default logger implies.
func New(subsystem string) *Logger {
	return &Logger{
		subsystem: subsystem,
		std:       log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) tag() string {
	if subsystemColor {
		return "\x1b[2m[" + l.subsystem + "]\x1b[0m "
	}
	return "[" + l.subsystem + "] "
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(l.tag()+format, args...)
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.std.Fatalf(l.tag()+format, args...)
}

// Bytes formats a byte count the way a grown trace region's size gets
// logged ("grew trace region to 2.0 MB").
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}
