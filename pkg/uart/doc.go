// Package uart provides hub transports over a USB-UART bridge.
package uart

// The hub's RESETN and BOOTN inputs are wired to the bridge's DTR and RTS
// outputs, both inverted by the bridge, so asserting DTR holds the hub in
// reset and asserting RTS selects the bootloader.
//
// FramedHAL speaks RFC1662 style framing with in-band flow control:
// the hub advertises free buffer space with a Buffer Status Notification
// (BSN) in a CONTROL frame and the host asks for one with a Buffer Status
// Query (BSQ). RawHAL passes bytes as-is and is used by bootloaders which
// speak a lockstep protocol.
