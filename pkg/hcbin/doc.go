// Package hcbin reads HcBin firmware containers.
//
// A container starts with four big-endian words: magic, file size, format
// version and payload offset. Metadata records "key: value" terminated by
// '\n', '\r' or NUL follow up to the payload offset. The payload runs to
// four bytes before the end of file, the last four bytes hold the
// complement of the CRC-32 of everything before them.
package hcbin
