// Package notify delivers operator-facing messages by severity.
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Severity int

const (
	Info Severity = iota
	Success
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notifier is the operator notification sink.
type Notifier interface {
	Notify(message string, severity Severity)
}

// Func adapts a function to Notifier.
type Func func(message string, severity Severity)

func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// Discard drops every message.
var Discard Notifier = Func(func(string, Severity) {})

// Console prints one colored line per message.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	now   func() time.Time
	print map[Severity]*color.Color
}

// NewConsole writes to out, or stderr when out is nil. Colors follow
// fatih/color's terminal detection unless noColor is set.
func NewConsole(out io.Writer, noColor bool) *Console {
	if out == nil {
		out = os.Stderr
	}
	c := &Console{
		out: out,
		now: time.Now,
		print: map[Severity]*color.Color{
			Info:    color.New(color.FgCyan),
			Success: color.New(color.FgGreen, color.Bold),
			Warning: color.New(color.FgYellow),
			Error:   color.New(color.FgRed, color.Bold),
		},
	}
	if noColor {
		for _, p := range c.print {
			p.DisableColor()
		}
	}
	return c
}

var badges = map[Severity]string{
	Info:    "[i]",
	Success: "[ok]",
	Warning: "[!]",
	Error:   "[x]",
}

func (c *Console) Notify(message string, severity Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.print[severity]
	if !ok {
		p = c.print[Info]
	}
	badge := badges[severity]
	if badge == "" {
		badge = badges[Info]
	}
	_, _ = fmt.Fprintf(c.out, "%s %s %s\r\n", c.now().Format("15:04:05"), p.Sprint(badge), message)
}

// Message is one recorded notification.
type Message struct {
	Text     string
	Severity Severity
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Text: message, Severity: severity})
	r.mu.Unlock()
}

// Messages returns a copy of what was recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the latest message.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}
