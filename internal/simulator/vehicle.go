// Package simulator is a fake vehicle speaking the WiFi endpoints: a
// WebSocket at /ws plus the HTTP command, sensor and status API.
package simulator

import (
	"strconv"
	"sync"
	"time"

	"github.com/srg/rcdrive/internal/protocol"
)

// Received is one frame the vehicle accepted.
type Received struct {
	Frame protocol.Frame
	Via   string // "ws" or "http"
	At    time.Time
}

// Vehicle is the simulated drive state. Tick advances it.
type Vehicle struct {
	mu sync.Mutex

	movement    string
	servo       string
	speed       int
	mode        string
	lights      bool
	distance    int
	battery     float64
	temperature float64
	motors      [4]int
	received    []Received
}

// NewVehicle returns a stopped vehicle 120 cm from the nearest obstacle.
func NewVehicle() *Vehicle {
	return &Vehicle{
		movement:    protocol.Stop,
		servo:       protocol.ServoCenter,
		speed:       5,
		mode:        "hold",
		distance:    120,
		battery:     100,
		temperature: 24.5,
	}
}

// Apply records f and updates the drive state.
func (v *Vehicle) Apply(f protocol.Frame, via string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.received = append(v.received, Received{Frame: f, Via: via, At: time.Now()})
	switch f.Key {
	case protocol.KeyMovement:
		v.movement = f.Value
	case protocol.KeyServo:
		v.servo = f.Value
	case protocol.KeyFunction:
		if f.Value == protocol.FuncLights {
			v.lights = !v.lights
		}
	case protocol.KeySpeed:
		if n, err := strconv.Atoi(f.Value); err == nil && n >= 1 && n <= 10 {
			v.speed = n
		}
	case protocol.KeyMode:
		v.mode = f.Value
	}
}

// Tick advances the simulation by one telemetry period.
func (v *Vehicle) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()

	duty := v.speed * 10
	switch v.movement {
	case protocol.Forward:
		v.distance = max(v.distance-v.speed, 3)
		v.motors = [4]int{duty, duty, duty, duty}
	case protocol.Back:
		v.distance = min(v.distance+v.speed, 250)
		v.motors = [4]int{duty, duty, duty, duty}
	case protocol.Left:
		v.motors = [4]int{duty / 2, duty, duty / 2, duty}
	case protocol.Right:
		v.motors = [4]int{duty, duty / 2, duty, duty / 2}
	default:
		v.motors = [4]int{}
	}

	if v.movement != protocol.Stop {
		v.battery = max(v.battery-0.05*float64(v.speed), 0)
		v.temperature = min(v.temperature+0.02, 60)
	} else {
		v.temperature = max(v.temperature-0.01, 24.5)
	}
}

// Telemetry returns the current sensor frames in a fixed order.
func (v *Vehicle) Telemetry() []protocol.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()

	frames := []protocol.Frame{
		{Key: protocol.KeyDistance, Value: strconv.Itoa(v.distance)},
		{Key: protocol.KeyBattery, Value: strconv.Itoa(int(v.battery))},
	}
	for i, duty := range v.motors {
		frames = append(frames, protocol.Frame{Key: protocol.KeyMotorPrefix + strconv.Itoa(i+1), Value: strconv.Itoa(duty)})
	}
	frames = append(frames,
		protocol.Frame{Key: protocol.KeyTemperature, Value: strconv.FormatFloat(v.temperature, 'f', 1, 64)},
		protocol.Frame{Key: protocol.KeyStatus, Value: v.statusLocked()},
	)
	return frames
}

// Status describes the vehicle for GET /status.
func (v *Vehicle) Status() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return map[string]any{
		"status":   v.statusLocked(),
		"movement": v.movement,
		"servo":    v.servo,
		"speed":    v.speed,
		"mode":     v.mode,
		"lights":   v.lights,
	}
}

func (v *Vehicle) statusLocked() string {
	if v.movement == protocol.Stop {
		return "idle"
	}
	return "driving"
}

// SetDistance overrides the obstacle distance.
func (v *Vehicle) SetDistance(cm int) {
	v.mu.Lock()
	v.distance = cm
	v.mu.Unlock()
}

// Received returns every accepted frame in arrival order.
func (v *Vehicle) Received() []Received {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Received(nil), v.received...)
}

// Movement returns the last movement code.
func (v *Vehicle) Movement() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.movement
}
