// Package sh2 defines the pieces shared by the sensor hub transports and
// the firmware upgraders: the HAL contract, status codes and the clock.
package sh2
