package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level controls which messages a Manager emits.
type Level int

const (
	DEBUG Level = iota
	INFO
	SUCCESS
	WARNING
	ERROR
)

func (l Level) String() string {
	return []string{"D", "I", "✓", "!", "!!"}[l]
}

func (l Level) color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),
		color.New(color.FgWhite),
		color.New(color.FgHiGreen),
		color.New(color.FgYellow),
		color.New(color.FgHiRed, color.Bold),
	}[l]
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warning", "warn":
		return WARNING
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a named log emitter. Services receive one at
// construction rather than consulting process-wide state.
type Logger interface {
	Emit(level Level, message string, args ...interface{})
}

// Manager creates named loggers sharing one sink and minimum level.
type Manager struct {
	mu     sync.Mutex
	out    io.Writer
	min    Level
	offset int
}

// New builds a Manager writing to out at the given minimum level.
func New(min Level, out io.Writer) *Manager {
	if out == nil {
		out = os.Stderr
	}
	return &Manager{out: out, min: min}
}

// Get returns a logger whose messages are prefixed with name.
func (m *Manager) Get(name string) Logger {
	return &named{mgr: m, name: name}
}

type named struct {
	mgr  *Manager
	name string
}

func (l *named) Emit(level Level, message string, args ...interface{}) {
	l.mgr.emit(level, l.name, message, args...)
}

func (m *Manager) emit(level Level, name string, message string, args ...interface{}) {
	if level < m.min {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(name) > m.offset {
		m.offset = len(name)
	}
	padding := strings.Repeat(" ", m.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, level, fmt.Sprintf(message, args...))
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	level.color().Fprint(m.out, msg)
}

// Nop returns a logger that discards everything, for tests.
func Nop() Logger {
	return New(ERROR+1, io.Discard).Get("nop")
}
