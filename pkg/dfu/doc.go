// Package dfu upgrades hub firmware.
//
// SimpleUpgrader speaks the lockstep protocol of the BNO bootloader over a
// raw link: every packet carries a CRC-16 and is acknowledged by a single
// byte. ReportUpgrader drives the FSP200 bootloader over SHTP channel 1
// with request and response reports.
//
// Both take the firmware from a Firmware, validate it before touching the
// device, and report the outcome as an error wrapping a sh2.Status.
package dfu
