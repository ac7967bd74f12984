// Package protocol implements the textual vehicle wire protocol.
//
// Every message is a single frame of the form
//
//	{key:value}
//
// Frames written over Bluetooth are terminated with "\n" so the firmware can
// split them on line boundaries. Inbound payloads additionally accept a JSON
// object form and the legacy bare-integer distance form.
package protocol
