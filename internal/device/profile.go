package device

import "strings"

// ServicePriority lists the serial-style GATT services cheap vehicle modules
// expose, in probe order: HM-10/HC-08 style, Nordic UART, generic fff0 and
// Microchip transparent UART.
var ServicePriority = NormalizeUUIDs([]string{
	"ffe0",
	"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
	"fff0",
	"49535343-fe7d-4ae5-8fa9-9fafd205e455",
})

// WriteCharPriority lists candidate command characteristics in probe order.
var WriteCharPriority = NormalizeUUIDs([]string{
	"ffe1",
	"6e400002-b5a3-f393-e0a9-e50e24dcca9e",
	"6e400003-b5a3-f393-e0a9-e50e24dcca9e",
	"fff1",
	"fff2",
	"49535343-1e4d-4bd9-ba61-23c647249616",
	"49535343-8841-43f4-a8d4-ecbe34729bb3",
})

// RxCharPriority lists candidate telemetry characteristics in probe order.
var RxCharPriority = NormalizeUUIDs([]string{
	"6e400003-b5a3-f393-e0a9-e50e24dcca9e",
	"ffe1",
	"fff2",
	"49535343-8841-43f4-a8d4-ecbe34729bb3",
})

// NamePrefixes is the advertised local-name allow-list used when no address
// is configured.
var NamePrefixes = []string{"HC-05", "HC-06", "ESP32", "ESP", "DX-BT24", "DX", "BT24", "MLT-BT05"}

// MatchesNamePrefix reports whether an advertised name is on the allow-list.
func MatchesNamePrefix(name string) bool {
	for _, p := range NamePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// FirstMatch returns the first entry of priority accepted by has, and its
// index. Entries are compared in normalized form.
func FirstMatch(priority []string, has func(uuid string) bool) (string, int, bool) {
	for i, want := range priority {
		if has(NormalizeUUID(want)) {
			return want, i, true
		}
	}
	return "", -1, false
}
