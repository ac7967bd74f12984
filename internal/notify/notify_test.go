package notify

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.now = func() time.Time { return time.Date(2024, 1, 1, 9, 5, 7, 0, time.UTC) }

	c.Notify("Connected to HC-05", Success)
	c.Notify("No compatible device found", Error)
	c.Notify("odd", Severity(42))

	assert.Equal(t,
		"09:05:07 [ok] Connected to HC-05\r\n"+
			"09:05:07 [x] No compatible device found\r\n"+
			"09:05:07 [i] odd\r\n",
		buf.String())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_, ok := r.Last()
	assert.False(t, ok)

	r.Notify("a", Info)
	r.Notify("b", Warning)
	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, Message{Text: "b", Severity: Warning}, last)
	assert.Len(t, r.Messages(), 2)
	assert.Equal(t, "warning", Warning.String())
}
