package testing

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/layout"
)

// WriteRecord is one block write captured by a RecordingDevice, in the order
// the file system issued it.
type WriteRecord struct {
	Blockno uint32
	Data    []byte
}

// RecordingDevice wraps a Device and keeps a copy of every write. Replaying
// a prefix of the captured writes onto a snapshot of the original image
// simulates a crash at that point in the write stream.
type RecordingDevice struct {
	Inner  disk.Device
	Writes []WriteRecord
}

func NewRecordingDevice(inner disk.Device) *RecordingDevice {
	return &RecordingDevice{Inner: inner}
}

func (d *RecordingDevice) ReadBlock(blockno uint32, buf []byte) error {
	return d.Inner.ReadBlock(blockno, buf)
}

func (d *RecordingDevice) WriteBlock(blockno uint32, buf []byte) error {
	data := make([]byte, len(buf))
	copy(data, buf)
	d.Writes = append(d.Writes, WriteRecord{Blockno: blockno, Data: data})
	return d.Inner.WriteBlock(blockno, buf)
}

func (d *RecordingDevice) Sync() error {
	return d.Inner.Sync()
}

func (d *RecordingDevice) TotalBlocks() uint32 {
	return d.Inner.TotalBlocks()
}

// SnapshotImage copies the current contents of a byte-backed image.
func SnapshotImage(img []byte) []byte {
	out := make([]byte, len(img))
	copy(out, img)
	return out
}

// ReplayImage applies the first n captured writes to a copy of base and
// returns a stream of the result: the volume as a crash at that write
// boundary would have left it.
func ReplayImage(base []byte, writes []WriteRecord, n int) io.ReadWriteSeeker {
	img := SnapshotImage(base)
	for _, w := range writes[:n] {
		copy(img[int(w.Blockno)*layout.BlockSize:], w.Data)
	}
	return bytesextra.NewReadWriteSeeker(img)
}
