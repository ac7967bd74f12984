package device

// knownNames labels the GATT services and characteristics an RC module is
// likely to expose. Keys are normalized UUIDs.
var knownNames = map[string]string{
	// Bluetooth SIG
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180f": "Battery Service",
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",

	// serial bridges
	"ffe0":                             "HM-10 Serial",
	"ffe1":                             "HM-10 Serial Data",
	"fff0":                             "Generic Serial",
	"fff1":                             "Generic Serial Write",
	"fff2":                             "Generic Serial Notify",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
	"49535343fe7d4ae58fa99fafd205e455": "Microchip Transparent UART",
	"495353431e4d4bd9ba6123c647249616": "Microchip Transparent UART TX",
	"49535343884143f4a8d4ecbe34729bb3": "Microchip Transparent UART RX",
}

// KnownName returns a human-readable label for uuid, or "" when unknown.
func KnownName(uuid string) string {
	return knownNames[NormalizeUUID(uuid)]
}
