// Package leb128 encodes and decodes the Little Endian Base 128 format,
// defined in the DWARF v4 standard, section 7.6.
// Decoders never panic, truncated input is reported with ErrTruncated.
package leb128
