package handset

import (
	"github.com/robotalks/crsflink/pkg/crsf"
)

// FramerState describes what the framer is waiting for.
type FramerState int

const (
	// SeekingSync means no sync byte is buffered.
	SeekingSync FramerState = iota
	// ReadingLength means a sync byte is buffered without the size byte.
	ReadingLength
	// AccumulatingPayload means the frame is incomplete.
	AccumulatingPayload
	// FrameComplete means a full frame is buffered and not yet consumed.
	FrameComplete
)

// String implements fmt.Stringer.
func (s FramerState) String() string {
	switch s {
	case SeekingSync:
		return "seeking-sync"
	case ReadingLength:
		return "reading-length"
	case AccumulatingPayload:
		return "accumulating-payload"
	case FrameComplete:
		return "frame-complete"
	}
	return "unknown"
}

// Result is the outcome of Framer.Next.
type Result int

const (
	// NeedMore means more bytes are required.
	NeedMore Result = iota
	// GoodFrame means a frame with valid CRC was extracted.
	GoodFrame
	// BadFrame means a candidate frame had an invalid size or failed the
	// CRC check.
	BadFrame
)

// Framer finds frame boundaries in the byte stream from the handset.
//
// Bytes ahead of a sync byte are discarded. A candidate frame with an
// invalid size or CRC causes a resync starting one byte after its sync
// byte, so a valid frame hidden inside garbage is still found.
type Framer struct {
	buf [crsf.MaxPacketLen]byte
	ptr int
}

// Push appends a byte. Call Next after each Push to keep the buffer from
// filling up.
func (f *Framer) Push(b byte) {
	if f.ptr >= len(f.buf) {
		f.alignToSync(1)
	}
	f.buf[f.ptr] = b
	f.ptr++
}

// Next extracts the next frame from the buffer.
func (f *Framer) Next() (crsf.Frame, Result) {
	f.alignToSync(0)
	if f.ptr < crsf.HeaderLen {
		return nil, NeedMore
	}
	size := int(f.buf[1])
	if size < crsf.MinFrameSize || size > crsf.MaxFrameSize {
		f.alignToSync(1)
		return nil, BadFrame
	}
	total := size + crsf.NotCountedBytes
	if f.ptr < total {
		return nil, NeedMore
	}
	if crsf.Frame(f.buf[:total]).Validate() != nil {
		f.alignToSync(1)
		return nil, BadFrame
	}
	frame := append(crsf.Frame(nil), f.buf[:total]...)
	f.alignToSync(total)
	return frame, GoodFrame
}

// State returns the current state.
func (f *Framer) State() FramerState {
	switch {
	case f.ptr == 0:
		return SeekingSync
	case f.ptr < crsf.NotCountedBytes:
		return ReadingLength
	}
	if size := int(f.buf[1]); size >= crsf.MinFrameSize && size <= crsf.MaxFrameSize &&
		f.ptr >= size+crsf.NotCountedBytes {
		return FrameComplete
	}
	return AccumulatingPayload
}

// Buffered returns the number of buffered bytes.
func (f *Framer) Buffered() int {
	return f.ptr
}

// Reset discards all buffered bytes.
func (f *Framer) Reset() {
	f.ptr = 0
}

// alignToSync moves the first sync byte at or after start to the beginning
// of the buffer, discarding everything before it.
func (f *Framer) alignToSync(start int) {
	for i := start; i < f.ptr; i++ {
		if crsf.IsSync(f.buf[i]) {
			if i > 0 {
				copy(f.buf[:], f.buf[i:f.ptr])
				f.ptr -= i
			}
			return
		}
	}
	f.ptr = 0
}
