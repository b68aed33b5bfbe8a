package walb

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/chunbee/walb-driver/internal/blockio"
)

// superblockMagic identifies a formatted LDEV. It occupies the first 4
// bytes of superblock0.
const superblockMagic = uint32(0x57414c42) // "WALB"

// superblock is the persisted record of a device's identity and geometry,
// written to LDEV's primary superblock at format time and re-read at open.
// Layout (native endian):
//
//	0:4    magic
//	4:8    PBS
//	8:12   LBS
//	12:16  reserved
//	16:24  RingBufferPB
//	24:40  UUID (16 bytes)
//	40:48  CheckpointIntervalMS
type superblock struct {
	PBS                  uint32
	LBS                  uint32
	RingBufferPB         uint64
	UUID                 uuid.UUID
	CheckpointIntervalMS uint64
}

const superblockEncodedSize = 48

var errBadMagic = errors.New("walb: not a formatted WalB log device")

func encodeSuperblock(sb superblock, pbs uint32) []byte {
	buf := make([]byte, pbs)
	blockio.PutUint32(buf[0:4], superblockMagic)
	blockio.PutUint32(buf[4:8], sb.PBS)
	blockio.PutUint32(buf[8:12], sb.LBS)
	blockio.PutUint64(buf[16:24], sb.RingBufferPB)
	copy(buf[24:40], sb.UUID[:])
	blockio.PutUint64(buf[40:48], sb.CheckpointIntervalMS)
	return buf
}

func decodeSuperblock(buf []byte) (superblock, error) {
	if len(buf) < superblockEncodedSize {
		return superblock{}, errors.New("walb: superblock buffer too short")
	}
	if blockio.Uint32(buf[0:4]) != superblockMagic {
		return superblock{}, errBadMagic
	}
	var sb superblock
	sb.PBS = blockio.Uint32(buf[4:8])
	sb.LBS = blockio.Uint32(buf[8:12])
	sb.RingBufferPB = blockio.Uint64(buf[16:24])
	copy(sb.UUID[:], buf[24:40])
	sb.CheckpointIntervalMS = blockio.Uint64(buf[40:48])
	return sb, nil
}
