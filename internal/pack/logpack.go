// Package pack implements the in-memory pack (a bounded assemblage of bio
// wrappers sharing one logpack header) and the logpack header wire format,
// grounded on the kernel source's struct walb_logpack_header / struct
// walb_log_record (io.c, create_writepack / writepack_add_bio_wrapper).
package pack

import (
	"hash/crc32"

	"github.com/chunbee/walb-driver/internal/blockio"
	"github.com/chunbee/walb-driver/internal/lsid"
	"github.com/cockroachdb/errors"
)

// RecordFlag bits for one logpack record.
type RecordFlag uint8

const (
	FlagExist RecordFlag = 1 << iota
	FlagPadding
	FlagDiscard
	// FlagDiscardElided marks a discard record whose DDEV-side effect was
	// dropped rather than applied, so a later extractor can distinguish an
	// elided discard from one the backing store actually honored.
	FlagDiscardElided
)

// SectorTypeLogpack identifies a PBS-sized sector as a logpack header.
const SectorTypeLogpack uint32 = 0x1

// headerFixedSize is the byte size of the fixed-overhead portion of a
// logpack header sector, before the record array.
const headerFixedSize = 32

// recordSize is the byte size of one on-disk logpack record.
const recordSize = 32

// Record is one entry in a logpack header, describing a single write (or
// padding/discard) that is part of the pack.
type Record struct {
	Flags RecordFlag
	// OffsetLB and IOSizeLB describe the real device write in logical
	// blocks, the bio's native granularity. A record's on-disk payload
	// occupies ceil(IOSizeLB * LBS / PBS) physical blocks starting at
	// LsidLocal physical blocks into the pack's payload.
	OffsetLB  uint64
	IOSizeLB  uint32
	LsidLocal uint32
	Checksum  uint32
}

// Lsid returns the record's absolute lsid given the logpack header it
// belongs to.
func (r Record) Lsid(logpackLsid lsid.Lsid) lsid.Lsid {
	return logpackLsid + lsid.Lsid(r.LsidLocal)
}

// MaxRecords returns the number of Records that fit in one PBS-sized header
// sector, i.e. the logpack-header record capacity that bounds how many
// writes one logpack can hold.
func MaxRecords(pbs uint32) int {
	return (int(pbs) - headerFixedSize) / recordSize
}

// Header is the decoded form of a PBS-sized logpack header sector.
type Header struct {
	LogpackLsid lsid.Lsid
	TotalIOSize uint32 // physical blocks of payload following the header
	NPadding    uint16
	Checksum    uint32
	Records     []Record
}

// Encode serializes h into a PBS-sized sector and stamps Checksum computed
// with the device-wide salt, so headers are uniquely bound to their device.
func Encode(h *Header, pbs uint32, salt uint32) []byte {
	buf := make([]byte, pbs)
	blockio.PutUint32(buf[0:4], SectorTypeLogpack)
	blockio.PutUint64(buf[4:12], uint64(h.LogpackLsid))
	blockio.PutUint32(buf[12:16], h.TotalIOSize)
	blockio.Endian.PutUint16(buf[16:18], uint16(len(h.Records)))
	blockio.Endian.PutUint16(buf[18:20], h.NPadding)
	// buf[20:24] reserved/padding to keep the fixed header 32 bytes wide.
	// Checksum occupies buf[24:28]; written last, after the body.

	off := headerFixedSize
	for _, r := range h.Records {
		buf[off] = byte(r.Flags)
		blockio.PutUint64(buf[off+8:off+16], r.OffsetLB)
		blockio.PutUint32(buf[off+16:off+20], r.IOSizeLB)
		blockio.PutUint32(buf[off+20:off+24], r.LsidLocal)
		blockio.PutUint32(buf[off+24:off+28], r.Checksum)
		off += recordSize
	}

	h.Checksum = checksumWithSalt(buf, 24, salt)
	blockio.PutUint32(buf[24:28], h.Checksum)
	return buf
}

// Decode parses a PBS-sized sector into a Header, returning an error if the
// sector is not a logpack header or its checksum does not match salt.
func Decode(buf []byte, salt uint32) (*Header, error) {
	if len(buf) < headerFixedSize {
		return nil, errors.New("pack: header sector too small")
	}
	if blockio.Uint32(buf[0:4]) != SectorTypeLogpack {
		return nil, errors.New("pack: not a logpack header sector")
	}

	wantChecksum := blockio.Uint32(buf[24:28])
	gotChecksum := checksumWithSalt(buf, 24, salt)
	if wantChecksum != gotChecksum {
		return nil, errors.New("pack: logpack header checksum mismatch")
	}

	h := &Header{
		LogpackLsid: lsid.Lsid(blockio.Uint64(buf[4:12])),
		TotalIOSize: blockio.Uint32(buf[12:16]),
		NPadding:    blockio.Endian.Uint16(buf[18:20]),
		Checksum:    wantChecksum,
	}
	n := int(blockio.Endian.Uint16(buf[16:18]))
	off := headerFixedSize
	for i := 0; i < n && off+recordSize <= len(buf); i++ {
		h.Records = append(h.Records, Record{
			Flags:     RecordFlag(buf[off]),
			OffsetLB:  blockio.Uint64(buf[off+8 : off+16]),
			IOSizeLB:  blockio.Uint32(buf[off+16 : off+20]),
			LsidLocal: blockio.Uint32(buf[off+20 : off+24]),
			Checksum:  blockio.Uint32(buf[off+24 : off+28]),
		})
		off += recordSize
	}
	return h, nil
}

// checksumWithSalt computes a CRC32 over buf, excluding the checksumOffset
// 4-byte checksum field itself (zeroed during the computation), combined
// with the device salt so headers are uniquely bound to their device.
func checksumWithSalt(buf []byte, checksumOffset int, salt uint32) uint32 {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)
	blockio.PutUint32(tmp[checksumOffset:checksumOffset+4], 0)

	crc := crc32.ChecksumIEEE(tmp)
	return crc ^ salt
}

// ChecksumPayload computes the record-level payload checksum stored on each
// bio wrapper at submit time, combined with the same device salt.
func ChecksumPayload(data []byte, salt uint32) uint32 {
	return crc32.ChecksumIEEE(data) ^ salt
}
