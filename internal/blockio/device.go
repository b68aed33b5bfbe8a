package blockio

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"
)

// Device is a direct-I/O wrapper around an LDEV or DDEV backing file. It is
// an aligned random-access read/writer rather than an append-only writer,
// since LDEV is a ring buffer and DDEV is written at arbitrary logical
// positions. The alignment granularity is set at Open and need not be the
// same for every Device: LDEV is opened at PBS (it holds logpack sectors),
// while DDEV is opened at LBS (the data path addresses it in logical
// blocks).
type Device struct {
	file *os.File
	pbs  int
}

// ErrMisaligned is returned when a caller offset or buffer length is not a
// multiple of the device's configured block size.
var ErrMisaligned = errors.New("blockio: offset or length not aligned to physical block size")

// Open opens name for direct I/O with the given flag (os.O_RDWR, etc.).
// blockSize is the alignment granularity WriteAt/ReadAt enforce on this
// Device — PBS for LDEV, LBS for DDEV.
func Open(name string, flag int, blockSize int) (*Device, error) {
	file, err := directio.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "blockio: open %s", name)
	}
	return &Device{file: file, pbs: blockSize}, nil
}

// PBS returns the device's configured alignment block size.
func (d *Device) PBS() int { return d.pbs }

// AlignedBuffer returns a buffer of n bytes suitable for direct I/O.
func (d *Device) AlignedBuffer(n int) []byte {
	return directio.AlignedBlock(n)
}

// WriteAt writes buf at byte offset off. Both off and len(buf) must be
// multiples of the Device's configured block size; direct I/O requires
// this alignment at the device level, and callers are responsible for
// producing aligned buffers (padding where necessary).
func (d *Device) WriteAt(buf []byte, off int64) (int, error) {
	if off%int64(d.pbs) != 0 || len(buf)%d.pbs != 0 {
		return 0, ErrMisaligned
	}
	n, err := d.file.WriteAt(buf, off)
	if err != nil {
		return n, errors.Wrap(err, "blockio: write")
	}
	return n, nil
}

// ReadAt reads into buf starting at byte offset off, under the same
// alignment constraints as WriteAt.
func (d *Device) ReadAt(buf []byte, off int64) (int, error) {
	if off%int64(d.pbs) != 0 || len(buf)%d.pbs != 0 {
		return 0, ErrMisaligned
	}
	n, err := d.file.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errors.Wrap(err, "blockio: read")
	}
	return n, nil
}

// Flush durably persists all writes issued so far, the direct-I/O analogue
// of the kernel module's REQ_PREFLUSH/REQ_FUA bio submission.
func (d *Device) Flush() error {
	if err := d.file.Sync(); err != nil {
		return errors.Wrap(err, "blockio: flush")
	}
	return nil
}

// Truncate resizes the backing file, used by format/resize control
// operations.
func (d *Device) Truncate(size int64) error {
	if err := d.file.Truncate(size); err != nil {
		return errors.Wrap(err, "blockio: truncate")
	}
	return nil
}

// Close closes the underlying file.
func (d *Device) Close() error {
	if err := d.file.Close(); err != nil {
		return errors.Wrap(err, "blockio: close")
	}
	return nil
}

var _ io.Closer = (*Device)(nil)
