package input

import "github.com/srg/rcdrive/internal/protocol"

// Key names as delivered by the console. Letters are lower-case.
const (
	KeyArrowUp    = "arrowup"
	KeyArrowDown  = "arrowdown"
	KeyArrowLeft  = "arrowleft"
	KeyArrowRight = "arrowright"
	KeySpace      = " "
)

// Modifiers held together with a key.
type Modifiers struct {
	Ctrl bool
}

const keyModeToggle = "m"

var keyMap = map[string]Control{
	"w": {GroupMovement, protocol.Forward},
	"a": {GroupMovement, protocol.Left},
	"s": {GroupMovement, protocol.Back},
	"d": {GroupMovement, protocol.Right},
	"z": {GroupMovement, protocol.Stop},

	KeyArrowUp:    {GroupServo, protocol.ServoUp},
	KeyArrowDown:  {GroupServo, protocol.ServoDown},
	KeyArrowLeft:  {GroupServo, protocol.ServoLeft},
	KeyArrowRight: {GroupServo, protocol.ServoRight},
	KeySpace:      {GroupServo, protocol.ServoCenter},

	"h": {GroupFunction, protocol.FuncHorn},
	"l": {GroupFunction, protocol.FuncLights},
	"o": {GroupFunction, protocol.FuncServo},
}

// speedKeys bypass key-repeat suppression so holding + keeps accelerating.
var speedKeys = map[string]int{
	"+": 1,
	"=": 1,
	"-": -1,
	"_": -1,
}

var holdReleaseKeys = map[string]bool{"w": true, "a": true, "s": true, "d": true}

var arrowKeys = map[string]bool{
	KeyArrowUp: true, KeyArrowDown: true, KeyArrowLeft: true, KeyArrowRight: true,
}

// Lookup returns the control bound to key.
func Lookup(key string) (Control, bool) {
	c, ok := keyMap[key]
	return c, ok
}
