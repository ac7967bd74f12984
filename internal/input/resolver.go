package input

import (
	"context"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/protocol"
)

// Commander is the part of the connection manager the resolver drives.
type Commander interface {
	Connected() bool
	SendCommand(ctx context.Context, cmd protocol.Command) error
	SendFrame(ctx context.Context, key, value string) error
	AdjustSpeed(ctx context.Context, delta int) (int, error)
}

// Resolver applies the drive-mode policy. It is safe for concurrent use;
// events are resolved one at a time.
type Resolver struct {
	cmd    Commander
	logger *logrus.Logger

	mu      sync.Mutex
	mode    DriveMode
	latched string // at most one movement code, Toggle only

	pressed *hashmap.Map[string, struct{}]
}

// NewResolver starts in Hold mode with nothing latched.
func NewResolver(cmd Commander, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		cmd:     cmd,
		logger:  logger,
		pressed: hashmap.New[string, struct{}](),
	}
}

func (r *Resolver) Mode() DriveMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Latched returns the latched movement code, or "" when none is.
func (r *Resolver) Latched() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latched
}

// Reset returns to Hold with no latch and no keys down. The connection
// manager calls it on every disconnect.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.mode = Hold
	r.latched = ""
	r.mu.Unlock()
	r.clearPressed()
}

func (r *Resolver) clearPressed() {
	var keys []string
	r.pressed.Range(func(k string, _ struct{}) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		r.pressed.Del(k)
	}
}

// Press handles a control going down.
func (r *Resolver) Press(ctx context.Context, c Control) error {
	if !r.cmd.Connected() {
		r.logger.WithField("code", c.Code).Debug("Ignoring press, not connected")
		return nil
	}
	switch c.Group {
	case GroupMovement:
		return r.movement(ctx, c.Code)
	case GroupServo:
		return r.cmd.SendCommand(ctx, protocol.Servo(c.Code))
	default:
		return r.cmd.SendCommand(ctx, protocol.Function(c.Code))
	}
}

// Release handles a control coming up. Hold-mode movement sends Stop unless
// the control was Stop itself, and servo controls always re-center.
func (r *Resolver) Release(ctx context.Context, c Control) error {
	if !r.cmd.Connected() {
		return nil
	}
	switch c.Group {
	case GroupMovement:
		if r.Mode() == Hold && c.Code != protocol.Stop {
			return r.cmd.SendCommand(ctx, protocol.Move(protocol.Stop))
		}
	case GroupServo:
		if c.Code != protocol.ServoCenter {
			return r.cmd.SendCommand(ctx, protocol.Servo(protocol.ServoCenter))
		}
	}
	return nil
}

func (r *Resolver) movement(ctx context.Context, code string) error {
	r.mu.Lock()
	if r.mode == Hold {
		r.mu.Unlock()
		return r.cmd.SendCommand(ctx, protocol.Move(code))
	}

	send := code
	switch {
	case code == protocol.Stop:
		r.latched = ""
	case r.latched == code:
		r.latched = ""
		send = protocol.Stop
	default:
		r.latched = code
	}
	latched := r.latched
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"code":    code,
		"latched": latched,
	}).Debug("Toggle movement")
	return r.cmd.SendCommand(ctx, protocol.Move(send))
}

// ToggleMode flips between Hold and Toggle.
func (r *Resolver) ToggleMode(ctx context.Context) error {
	next := Toggle
	if r.Mode() == Toggle {
		next = Hold
	}
	return r.SetMode(ctx, next)
}

// SetMode switches the drive mode, clearing any latch. Entering Hold sends
// Stop and every switch is announced with {mode:...}. Switching to the
// current mode does nothing. While not connected only the local mode changes.
func (r *Resolver) SetMode(ctx context.Context, mode DriveMode) error {
	r.mu.Lock()
	if r.mode == mode {
		r.mu.Unlock()
		return nil
	}
	r.mode = mode
	r.latched = ""
	r.mu.Unlock()

	r.logger.WithField("mode", mode.String()).Info("Drive mode changed")
	if !r.cmd.Connected() {
		return nil
	}
	if mode == Hold {
		if err := r.cmd.SendCommand(ctx, protocol.Move(protocol.Stop)); err != nil {
			return err
		}
	}
	return r.cmd.SendFrame(ctx, protocol.KeyMode, mode.String())
}

// KeyDown handles a keyboard key going down. Repeats of a key already down
// are ignored, except for the speed keys.
func (r *Resolver) KeyDown(ctx context.Context, key string, mods Modifiers) error {
	if !r.cmd.Connected() {
		return nil
	}
	key = normalizeKey(key)

	if delta, ok := speedKeys[key]; ok {
		_, err := r.cmd.AdjustSpeed(ctx, delta)
		return err
	}

	if !r.pressed.Insert(key, struct{}{}) {
		return nil
	}

	if key == keyModeToggle {
		return r.ToggleMode(ctx)
	}
	if key == "a" && mods.Ctrl {
		return r.cmd.SendCommand(ctx, protocol.Function(protocol.FuncAuto))
	}
	if c, ok := keyMap[key]; ok {
		return r.Press(ctx, c)
	}
	return nil
}

// KeyUp handles a keyboard key coming up. The key always leaves the down set.
func (r *Resolver) KeyUp(ctx context.Context, key string) error {
	key = normalizeKey(key)
	r.pressed.Del(key)

	if !r.cmd.Connected() {
		return nil
	}
	if holdReleaseKeys[key] && r.Mode() == Hold {
		return r.cmd.SendCommand(ctx, protocol.Move(protocol.Stop))
	}
	if arrowKeys[key] {
		return r.cmd.SendCommand(ctx, protocol.Servo(protocol.ServoCenter))
	}
	return nil
}

// Down reports whether key is currently held.
func (r *Resolver) Down(key string) bool {
	_, ok := r.pressed.Get(normalizeKey(key))
	return ok
}

func normalizeKey(key string) string {
	if key == KeySpace {
		return key
	}
	return strings.ToLower(key)
}
