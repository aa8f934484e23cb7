// Package shtp multiplexes channels over a hub HAL.
package shtp

// Each transfer starts with a 4 byte header:
//
//   0-1: length, little endian, including the header. Bit 15 marks a
//        continuation of the previous transfer on the channel.
//   2:   channel
//   3:   sequence number, counted per channel and direction
//
// The length of the first transfer of a payload covers the whole payload,
// each continuation carries the length still remaining. A payload is
// complete when the remaining length is received.
