package crsf

import (
	"encoding/binary"
	"fmt"
)

// ChannelsWireLen is the length of the channel payload sent over the air:
// 16 little endian uint16 values.
const ChannelsWireLen = NumChannels * 2

// ChannelData holds the 11-bit values of all channels.
type ChannelData [NumChannels]uint16

// MidChannels returns channel data with all channels centered.
func MidChannels() ChannelData {
	var ch ChannelData
	for n := range ch {
		ch[n] = ChannelValueMid
	}
	return ch
}

// UnpackChannels decodes the packed 11-bit payload of an RC channels frame.
func UnpackChannels(payload []byte) (ch ChannelData) {
	var acc uint32
	var bits uint
	idx := 0
	for n := range ch {
		for bits < ChannelBits {
			acc |= uint32(payload[idx]) << bits
			idx++
			bits += 8
		}
		ch[n] = uint16(acc & 0x7ff)
		acc >>= ChannelBits
		bits -= ChannelBits
	}
	return
}

// Pack encodes channels into the 22-byte frame payload.
func (ch *ChannelData) Pack(buf []byte) {
	var acc uint32
	var bits uint
	idx := 0
	for _, v := range ch {
		acc |= uint32(v&0x7ff) << bits
		bits += ChannelBits
		for bits >= 8 {
			buf[idx] = byte(acc)
			acc >>= 8
			bits -= 8
			idx++
		}
	}
}

// Frame builds the RC channels frame as the handset sends it.
func (ch *ChannelData) Frame() Frame {
	frame := make(Frame, RCFrameLen)
	ch.Pack(frame[HeaderLen:])
	SetHeaderAndCRC(frame, TypeRCChannels, RCFrameSize, AddrSync)
	return frame
}

// Bytes encodes channels for the wireless payload.
func (ch *ChannelData) Bytes() []byte {
	buf := make([]byte, ChannelsWireLen)
	for n, v := range ch {
		binary.LittleEndian.PutUint16(buf[n*2:], v)
	}
	return buf
}

// DecodeChannels decodes a wireless channel payload.
func DecodeChannels(payload []byte) (ch ChannelData, err error) {
	if len(payload) != ChannelsWireLen {
		return ch, fmt.Errorf("channel payload of %d bytes, expect %d", len(payload), ChannelsWireLen)
	}
	for n := range ch {
		ch[n] = binary.LittleEndian.Uint16(payload[n*2:])
	}
	return ch, nil
}

// ToMicroseconds converts a channel value into the 988..2012us PWM scale.
func ToMicroseconds(v uint16) int {
	return (int(v)-ChannelValueMid)*5/8 + 1500
}
