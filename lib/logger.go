package lib

import "testing"

// Logger is the minimal logging interface accepted by every component.
type Logger interface {
	Print(a ...any)
	Println(a ...any)
	Printf(format string, a ...any)
}

// OrNoLog returns logger, or a logger discarding everything when nil.
func OrNoLog(logger Logger) Logger {
	if logger == nil {
		return &NoLog{}
	}
	return logger
}

type NoLog struct{}

func (l *NoLog) Print(a ...any)                 {}
func (l *NoLog) Println(a ...any)               {}
func (l *NoLog) Printf(format string, a ...any) {}

// PrefixLogger adds a component name in front of each message.
type PrefixLogger struct {
	logger Logger
	prefix string
}

func NewPrefixLogger(logger Logger, prefix string) *PrefixLogger {
	return &PrefixLogger{
		logger: OrNoLog(logger),
		prefix: prefix,
	}
}

func (l *PrefixLogger) Print(a ...any) {
	l.logger.Print(append([]any{l.prefix + ": "}, a...)...)
}

func (l *PrefixLogger) Println(a ...any) {
	l.logger.Println(append([]any{l.prefix + ":"}, a...)...)
}

func (l *PrefixLogger) Printf(format string, a ...any) {
	l.logger.Printf(l.prefix+": "+format, a...)
}

type TestLogger struct {
	t      *testing.T
	prefix string
}

func NewTestLogger(t *testing.T, prefix string) *TestLogger {
	return &TestLogger{
		t:      t,
		prefix: prefix,
	}
}

func (l *TestLogger) Print(a ...any) {
	l.t.Helper()
	if l.prefix == "" {
		l.t.Log(a...)
	} else {
		l.t.Log(append([]any{l.prefix + ":"}, a...)...)
	}
}

func (l *TestLogger) Println(a ...any) {
	l.t.Helper()
	l.Print(a...)
}

func (l *TestLogger) Printf(format string, a ...any) {
	l.t.Helper()
	if l.prefix != "" {
		format = l.prefix + ": " + format
	}
	l.t.Logf(format, a...)
}
