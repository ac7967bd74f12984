package main

import (
	"sync"
	"time"

	"github.com/srg/rcdrive/internal/input"
)

// keyEvent is one key press decoded from terminal input.
type keyEvent struct {
	key  string
	mods input.Modifiers
	quit bool
	help bool
}

const (
	keyCtrlC = 0x03
	keyEsc   = 0x1b
)

// keyDecoder turns raw terminal bytes into key presses. Escape sequences
// split across reads are held until complete.
type keyDecoder struct {
	pending []byte
}

func (d *keyDecoder) Feed(data []byte) []keyEvent {
	buf := append(d.pending, data...)
	d.pending = nil

	var events []keyEvent
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		switch {
		case b == keyEsc:
			if i+1 >= len(buf) {
				d.pending = append([]byte(nil), buf[i:]...)
				return events
			}
			if intro := buf[i+1]; intro != '[' && intro != 'O' {
				continue
			}
			// CSI parameters, then one final byte
			j := i + 2
			for j < len(buf) && buf[j] >= 0x30 && buf[j] <= 0x3f {
				j++
			}
			if j >= len(buf) {
				d.pending = append([]byte(nil), buf[i:]...)
				return events
			}
			if key, ok := arrowNames[buf[j]]; ok {
				events = append(events, keyEvent{key: key})
			}
			i = j
		case b == keyCtrlC:
			events = append(events, keyEvent{quit: true})
		case b == '\r' || b == '\n' || b == '\t':
		case b >= 0x01 && b <= 0x1a:
			events = append(events, keyEvent{key: string(rune('a' + b - 1)), mods: input.Modifiers{Ctrl: true}})
		case b == 'q' || b == 'Q':
			events = append(events, keyEvent{quit: true})
		case b == '?':
			events = append(events, keyEvent{help: true})
		case b >= 0x20 && b < 0x7f:
			events = append(events, keyEvent{key: string(rune(b))})
		}
	}
	return events
}

var arrowNames = map[byte]string{
	'A': input.KeyArrowUp,
	'B': input.KeyArrowDown,
	'C': input.KeyArrowRight,
	'D': input.KeyArrowLeft,
}

// keyReleaser synthesizes key-up events. Terminals only report presses and
// auto-repeats, so a key counts as released once no repeat arrived within
// the window.
type keyReleaser struct {
	window  time.Duration
	release func(key string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func newKeyReleaser(window time.Duration, release func(key string)) *keyReleaser {
	return &keyReleaser{window: window, release: release, pending: make(map[string]*time.Timer)}
}

// Touch records a press or repeat of key and pushes its release out by one
// window.
func (r *keyReleaser) Touch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if t, ok := r.pending[key]; ok && t.Stop() {
		t.Reset(r.window)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(r.window, func() {
		r.mu.Lock()
		current := r.pending[key] == t
		if current {
			delete(r.pending, key)
		}
		r.mu.Unlock()
		if current {
			r.release(key)
		}
	})
	r.pending[key] = t
}

// Held reports whether key has a release pending.
func (r *keyReleaser) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Stop cancels every pending release.
func (r *keyReleaser) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for k, t := range r.pending {
		t.Stop()
		delete(r.pending, k)
	}
}
