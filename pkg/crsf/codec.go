package crsf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/robotalks/crsflink/pkg/crc"
)

var (
	frameCRC   = crc.NewCRC8(crc.PolyDVBS2)
	commandCRC = crc.NewCRC8(crc.PolyCommand)
)

var (
	// ErrShortFrame indicates the buffer doesn't hold a complete frame.
	ErrShortFrame = errors.New("short frame")
	// ErrFrameSize indicates the size byte is out of range.
	ErrFrameSize = errors.New("invalid frame size")
	// ErrPayloadTooLong indicates the payload doesn't fit in a frame.
	ErrPayloadTooLong = errors.New("payload too long")
)

// CRCError reports a trailer mismatch.
type CRCError struct {
	Expected byte
	Actual   byte
}

// Error implements error.
func (e *CRCError) Error() string {
	return fmt.Sprintf("crc mismatch: expect %02x, got %02x", e.Expected, e.Actual)
}

// CRC computes the frame CRC of data with seed.
func CRC(data []byte, seed byte) byte {
	return frameCRC.Calc(data, seed)
}

// CommandCRC computes the inner CRC of command frames.
func CommandCRC(data []byte) byte {
	return commandCRC.Calc(data, 0)
}

// SetHeaderAndCRC fills address, size and type and appends the CRC computed
// over type and payload. frame must hold size+2 bytes.
func SetHeaderAndCRC(frame []byte, typ FrameType, size byte, dest Address) {
	frame[0] = byte(dest)
	frame[1] = size
	frame[2] = byte(typ)
	end := int(size) + NotCountedBytes - 1
	frame[end] = CRC(frame[NotCountedBytes:end], 0)
}

// SetExtendedHeaderAndCRC fills the extended header and appends the CRC.
func SetExtendedHeaderAndCRC(frame []byte, typ FrameType, size byte, sender, dest Address) {
	frame[3] = byte(dest)
	frame[4] = byte(sender)
	SetHeaderAndCRC(frame, typ, size, dest)
}

// Frame is a complete frame on the wire, from address to CRC.
type Frame []byte

// Addr returns the address (sync) byte.
func (f Frame) Addr() Address {
	return Address(f[0])
}

// Size returns the size byte.
func (f Frame) Size() byte {
	return f[1]
}

// Type returns the frame type.
func (f Frame) Type() FrameType {
	return FrameType(f[2])
}

// Header decodes the common header.
func (f Frame) Header() Header {
	return Header{Addr: f.Addr(), Size: f.Size(), Type: f.Type()}
}

// IsExtended tells if the frame carries an extended header.
func (f Frame) IsExtended() bool {
	return f.Type().IsExtended() && len(f) >= ExtHeaderLen+1
}

// ExtHeader decodes the extended header, valid only if IsExtended.
func (f Frame) ExtHeader() ExtHeader {
	return ExtHeader{Header: f.Header(), Dest: Address(f[3]), Orig: Address(f[4])}
}

// Payload returns the bytes between type and CRC, including dest/orig of
// extended frames.
func (f Frame) Payload() []byte {
	return f[HeaderLen : len(f)-1]
}

// ExtPayload returns the payload after dest and orig.
func (f Frame) ExtPayload() []byte {
	return f[ExtHeaderLen : len(f)-1]
}

// Validate checks the frame bounds and CRC.
func (f Frame) Validate() error {
	if len(f) < NotCountedBytes {
		return ErrShortFrame
	}
	size := int(f[1])
	if size < MinFrameSize || size > MaxFrameSize {
		return ErrFrameSize
	}
	if len(f) < size+NotCountedBytes {
		return ErrShortFrame
	}
	end := size + NotCountedBytes - 1
	if expected := CRC(f[NotCountedBytes:end], 0); expected != f[end] {
		return &CRCError{Expected: expected, Actual: f[end]}
	}
	return nil
}

// BuildFrame creates a frame with a plain header.
func BuildFrame(typ FrameType, dest Address, payload []byte) (Frame, error) {
	size := len(payload) + 2
	if size > MaxFrameSize {
		return nil, ErrPayloadTooLong
	}
	frame := make(Frame, size+NotCountedBytes)
	copy(frame[HeaderLen:], payload)
	SetHeaderAndCRC(frame, typ, byte(size), dest)
	return frame, nil
}

// BuildExtendedFrame creates a frame with dest/orig in the header.
func BuildExtendedFrame(typ FrameType, dest, orig Address, payload []byte) (Frame, error) {
	size := len(payload) + 4
	if size > MaxFrameSize {
		return nil, ErrPayloadTooLong
	}
	frame := make(Frame, size+NotCountedBytes)
	copy(frame[ExtHeaderLen:], payload)
	SetExtendedHeaderAndCRC(frame, typ, byte(size), orig, dest)
	return frame, nil
}

// BuildCommandFrame creates a command frame. The command body is protected by
// an inner CRC ahead of the frame CRC.
func BuildCommandFrame(dest, orig Address, cmd, subcmd byte, data ...byte) (Frame, error) {
	body := make([]byte, 0, len(data)+5)
	body = append(body, byte(TypeCommand), byte(dest), byte(orig), cmd, subcmd)
	body = append(body, data...)
	body = append(body, CommandCRC(body))
	return BuildExtendedFrame(TypeCommand, dest, orig, body[3:])
}

// BuildSyncFrame creates the mixer timing frame: rate and offset are in
// units of 0.1 microseconds.
func BuildSyncFrame(rate, offset int32) Frame {
	var payload [9]byte
	payload[0] = RadioIDSubtypeSync
	binary.BigEndian.PutUint32(payload[1:], uint32(rate))
	binary.BigEndian.PutUint32(payload[5:], uint32(offset))
	frame, _ := BuildExtendedFrame(TypeRadioID, AddrHandset, AddrModule, payload[:])
	return frame
}

// ParseSyncFrame decodes a mixer timing frame.
func ParseSyncFrame(f Frame) (rate, offset int32, ok bool) {
	if f.Type() != TypeRadioID || !f.IsExtended() {
		return
	}
	payload := f.ExtPayload()
	if len(payload) < 9 || payload[0] != RadioIDSubtypeSync {
		return
	}
	rate = int32(binary.BigEndian.Uint32(payload[1:]))
	offset = int32(binary.BigEndian.Uint32(payload[5:]))
	return rate, offset, true
}
