// Package bin provides the fixed-width and varint primitives the wire codec
// builds on, adapted from the teacher's internal/bin package (which only had
// the big-endian fixed-width helpers; varint and byte-slice helpers are new,
// grounded on the same "plain functions over a byte slice" style).
package bin

import "encoding/binary"

// PutU16BE writes a uint16 in big-endian order.
func PutU16BE(dst []byte, v uint16) { binary.BigEndian.PutUint16(dst, v) }

// PutU32BE writes a uint32 in big-endian order.
func PutU32BE(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

// PutU64BE writes a uint64 in big-endian order.
func PutU64BE(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }

// U16BE reads a uint16 in big-endian order.
func U16BE(src []byte) uint16 { return binary.BigEndian.Uint16(src) }

// U32BE reads a uint32 in big-endian order.
func U32BE(src []byte) uint32 { return binary.BigEndian.Uint32(src) }

// U64BE reads a uint64 in big-endian order.
func U64BE(src []byte) uint64 { return binary.BigEndian.Uint64(src) }

// PutU64LE writes a uint64 in little-endian order, used by the PSK record
// layer's sequence-number and nonce fields.
func PutU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// U64LE reads a uint64 in little-endian order.
func U64LE(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// PutUvarint appends v to dst as a LEB128 unsigned varint and returns the
// extended slice.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// Uvarint reads a LEB128 unsigned varint from src, returning the value and
// the number of bytes consumed. n is 0 if src held a truncated varint.
func Uvarint(src []byte) (uint64, int) {
	return binary.Uvarint(src)
}
