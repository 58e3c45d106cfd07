// Package crsf implements the Crossfire serial protocol frame codec.
//
// A frame on the wire is
//
//	[addr][size][type][payload...][crc]
//
// where size counts type, payload and crc, and crc is CRC-8/DVB-S2 over
// type and payload. Frame types from 0x28 on carry an extended header with
// destination and origin addresses as the first two payload bytes.
package crsf

// Address is a CRSF device address.
type Address byte

// Device addresses.
const (
	AddrBroadcast        Address = 0x00
	AddrUSB              Address = 0x10
	AddrFlightController Address = 0xc8
	AddrRadioTransmitter Address = 0xea
	AddrReceiver         Address = 0xec
	AddrCRSFTransmitter  Address = 0xee
)

// Roles on the handset link.
const (
	// AddrSync starts channel frames sent by the handset.
	AddrSync = AddrFlightController
	// AddrHandset is the destination of frames sent back to the handset.
	AddrHandset = AddrRadioTransmitter
	// AddrModule is the address this bridge answers to.
	AddrModule = AddrCRSFTransmitter
)

// IsSync tells if b may start a frame coming from the handset.
func IsSync(b byte) bool {
	return b == byte(AddrSync) || b == byte(AddrCRSFTransmitter)
}

// FrameType is the type byte of a frame.
type FrameType byte

// Frame types.
const (
	TypeGPS            FrameType = 0x02
	TypeBattery        FrameType = 0x08
	TypeLinkStatistics FrameType = 0x14
	TypeRCChannels     FrameType = 0x16
	TypeAttitude       FrameType = 0x1e
	TypeFlightMode     FrameType = 0x21
	TypeDevicePing     FrameType = 0x28
	TypeDeviceInfo     FrameType = 0x29
	TypeParameterEntry FrameType = 0x2b
	TypeParameterRead  FrameType = 0x2c
	TypeParameterWrite FrameType = 0x2d
	TypeCommand        FrameType = 0x32
	TypeRadioID        FrameType = 0x3a

	typeExtendedMinimum = TypeDevicePing
)

// IsExtended tells if frames of this type carry dest/orig addresses.
func (t FrameType) IsExtended() bool {
	return t >= typeExtendedMinimum
}

// Command identifiers used by the handset.
const (
	CommandSubcmdRX      byte = 0x10
	CommandRXBind        byte = 0x01
	CommandModelSelectID byte = 0x05
	RadioIDSubtypeSync   byte = 0x10
)

// Size limits.
const (
	// MaxPacketLen is the largest frame including address and size bytes.
	MaxPacketLen = 64
	// NotCountedBytes are the address and size bytes excluded from size.
	NotCountedBytes = 2
	// MinFrameSize is the smallest valid size byte: type, one payload byte, crc.
	MinFrameSize = 3
	// MaxFrameSize is the largest valid size byte.
	MaxFrameSize = MaxPacketLen - NotCountedBytes
	// HeaderLen covers addr, size and type.
	HeaderLen = 3
	// ExtHeaderLen adds dest and orig to the header.
	ExtHeaderLen = HeaderLen + 2
)

// Channel values.
const (
	NumChannels        = 16
	ChannelBits        = 11
	ChannelValueMin    = 172
	ChannelValueMid    = 992
	ChannelValueMax    = 1811
	ChannelsPayloadLen = NumChannels * ChannelBits / 8
	// RCFrameSize is the size byte of an RC channels frame.
	RCFrameSize = ChannelsPayloadLen + 2
	// RCFrameLen is the length of an RC channels frame on the wire.
	RCFrameLen = RCFrameSize + NotCountedBytes
)

// Header is the common frame header.
type Header struct {
	Addr Address
	Size byte
	Type FrameType
}

// ExtHeader is the header of extended frames.
type ExtHeader struct {
	Header
	Dest Address
	Orig Address
}
