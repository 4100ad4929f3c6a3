package lib

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type bufferLogger struct {
	lines []string
}

func (l *bufferLogger) Print(a ...any) { l.lines = append(l.lines, fmt.Sprint(a...)) }
func (l *bufferLogger) Println(a ...any) {
	l.lines = append(l.lines, strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
}
func (l *bufferLogger) Printf(format string, a ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, a...))
}

func TestPrefixLogger(t *testing.T) {
	buffer := &bufferLogger{}
	logger := NewPrefixLogger(buffer, "mapper")
	logger.Printf("rollback: %s", "failed")
	logger.Println("commit", 2)
	assert.Equal(t, []string{"mapper: rollback: failed", "mapper: commit 2"}, buffer.lines)
}

func TestOrNoLog(t *testing.T) {
	assert.IsType(t, &NoLog{}, OrNoLog(nil))
	logger := NewTestLogger(t, "test")
	assert.Same(t, logger, OrNoLog(logger))
}
