// Package blockio wraps direct I/O access to the log device (LDEV) and
// data device (DDEV), and centralizes the native-endian on-disk integer
// codec. Native-endian encoding is an intentional performance choice;
// centralizing it here means a future endian-portable variant is a
// single-file change.
package blockio

import "encoding/binary"

// Endian is the on-disk byte order for all fixed-width integers. It is the
// host's native order, matching the original kernel module's layout, which
// is explicitly not portable across architectures.
var Endian binary.ByteOrder = binary.NativeEndian

// PutUint64 writes v to buf[0:8] in the on-disk byte order.
func PutUint64(buf []byte, v uint64) { Endian.PutUint64(buf, v) }

// Uint64 reads an on-disk uint64 from buf[0:8].
func Uint64(buf []byte) uint64 { return Endian.Uint64(buf) }

// PutUint32 writes v to buf[0:4] in the on-disk byte order.
func PutUint32(buf []byte, v uint32) { Endian.PutUint32(buf, v) }

// Uint32 reads an on-disk uint32 from buf[0:4].
func Uint32(buf []byte) uint32 { return Endian.Uint32(buf) }
