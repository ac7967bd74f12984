// Package device holds what the transports share about the vehicle side of a
// link: the error taxonomy, UUID normalization, the GATT profile priority
// tables and the advertised-name allow-list used during discovery.
package device
