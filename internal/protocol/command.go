package protocol

import "fmt"

// Outbound frame keys.
const (
	KeyMovement = "cmd"
	KeyServo    = "srv"
	KeyFunction = "func"
	KeySpeed    = "speed"
	KeyMode     = "mode"
	KeyPing     = "ping"
)

// Inbound telemetry keys.
const (
	KeyDistance    = "distance"
	KeyBattery     = "battery"
	KeyTemperature = "temperature"
	KeyStatus      = "status"
	KeyMotorPrefix = "motor"
)

// Movement codes.
const (
	Forward = "F"
	Left    = "L"
	Back    = "B"
	Right   = "R"
	Stop    = "S"
)

// Servo codes.
const (
	ServoUp     = "UP"
	ServoDown   = "DOWN"
	ServoLeft   = "LEFT"
	ServoRight  = "RIGHT"
	ServoCenter = "CENTER"
)

// Function codes known to the stock firmware. Other names pass through.
const (
	FuncHorn   = "HORN"
	FuncLights = "LIGHTS"
	FuncServo  = "SERVO"
	FuncAuto   = "AUTO"
)

// CommandKind classifies a Command and selects its frame key.
type CommandKind int

const (
	KindMovement CommandKind = iota
	KindServo
	KindFunction
	KindMeta
)

func (k CommandKind) String() string {
	switch k {
	case KindMovement:
		return "movement"
	case KindServo:
		return "servo"
	case KindFunction:
		return "function"
	case KindMeta:
		return "meta"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a logical instruction for the vehicle.
type Command struct {
	Kind CommandKind
	// Key is only consulted for KindMeta commands.
	Key  string
	Code string
}

// Move returns a movement command.
func Move(code string) Command { return Command{Kind: KindMovement, Code: code} }

// Servo returns a servo command.
func Servo(code string) Command { return Command{Kind: KindServo, Code: code} }

// Function returns a named function command.
func Function(code string) Command { return Command{Kind: KindFunction, Code: code} }

// Meta returns a structured command with an explicit key, e.g. mode or speed.
func Meta(key, value string) Command { return Command{Kind: KindMeta, Key: key, Code: value} }

// Frame maps the command onto its wire frame.
func (c Command) Frame() Frame {
	switch c.Kind {
	case KindMovement:
		return Frame{Key: KeyMovement, Value: c.Code}
	case KindServo:
		return Frame{Key: KeyServo, Value: c.Code}
	case KindFunction:
		return Frame{Key: KeyFunction, Value: c.Code}
	default:
		return Frame{Key: c.Key, Value: c.Code}
	}
}

func (c Command) String() string {
	return c.Frame().String()
}

// IsMovement reports whether code belongs to the movement alphabet.
func IsMovement(code string) bool {
	switch code {
	case Forward, Left, Back, Right, Stop:
		return true
	}
	return false
}
