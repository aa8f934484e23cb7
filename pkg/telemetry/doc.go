// Package telemetry streams sensor hub reports to sinks.
//
// A Monitor services the SHTP transport of a running hub and hands every
// transfer to its sinks as a Report. Reports are carried over the wire in
// an Envelope encoded in protobuf format, payloads are not decoded.
package telemetry
