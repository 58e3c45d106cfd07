package crsf

import "encoding/binary"

const (
	// MaxDeviceNameLen is the longest device name shown by the handset.
	MaxDeviceNameLen = 16
	// DeviceSerial is the serial tag reported in device information ("CBTX").
	DeviceSerial uint32 = 0x43425458
	// deviceInfoTrailerLen: serial, hardware, software, param count, param version.
	deviceInfoTrailerLen = 4 + 4 + 4 + 1 + 1
	// minVersion is reported when the version text can't be parsed.
	minVersion uint32 = 0x00010000
)

// ParseVersion converts version text like "2.2.15 ISM24G" into 0x0002020f.
// Each dotted field must be below 256. Parsing stops at the first character
// that is neither a digit nor a dot. Results below 1.0.0 become 1.0.0.
func ParseVersion(text string) uint32 {
	var ver uint32
	var acc byte
	var trailing bool
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '.' {
			ver = ver<<8 | uint32(acc)
			acc, trailing = 0, false
		} else if c >= '0' && c <= '9' {
			acc = acc*10 + (c - '0')
			trailing = true
		} else {
			break
		}
	}
	if trailing {
		ver = ver<<8 | uint32(acc)
	}
	if ver < minVersion {
		ver = minVersion
	}
	return ver
}

func deviceName(name string) string {
	if len(name) > MaxDeviceNameLen {
		return name[:MaxDeviceNameLen]
	}
	return name
}

// DeviceInformationSize returns the size byte of the device information
// frame for the name.
func DeviceInformationSize(name string) byte {
	return byte(len(deviceName(name)) + 1 + deviceInfoTrailerLen + 4)
}

// DeviceInformation writes the device information payload after the extended
// header of frame and returns the frame size to use with
// SetExtendedHeaderAndCRC.
func DeviceInformation(frame []byte, name, version string, fieldCount byte) byte {
	name = deviceName(name)
	p := frame[ExtHeaderLen:]
	n := copy(p, name)
	p[n] = 0
	p = p[n+1:]
	binary.BigEndian.PutUint32(p[0:], DeviceSerial)
	binary.BigEndian.PutUint32(p[4:], 0)
	binary.BigEndian.PutUint32(p[8:], ParseVersion(version))
	p[12] = fieldCount
	p[13] = 0
	return DeviceInformationSize(name)
}

// BuildDeviceInfoFrame creates the reply to a device ping.
func BuildDeviceInfoFrame(name, version string, fieldCount byte) Frame {
	frame := make(Frame, int(DeviceInformationSize(name))+NotCountedBytes)
	size := DeviceInformation(frame, name, version, fieldCount)
	SetExtendedHeaderAndCRC(frame, TypeDeviceInfo, size, AddrModule, AddrHandset)
	return frame
}

// DeviceInfo is the decoded device information payload.
type DeviceInfo struct {
	Name             string
	Serial           uint32
	HardwareVersion  uint32
	SoftwareVersion  uint32
	ParameterCount   byte
	ParameterVersion byte
}

// ParseDeviceInfo decodes a device information frame.
func ParseDeviceInfo(f Frame) (info DeviceInfo, ok bool) {
	if f.Type() != TypeDeviceInfo || !f.IsExtended() {
		return
	}
	p := f.ExtPayload()
	end := 0
	for end < len(p) && p[end] != 0 {
		end++
	}
	if end+1+deviceInfoTrailerLen > len(p) {
		return
	}
	info.Name = string(p[:end])
	p = p[end+1:]
	info.Serial = binary.BigEndian.Uint32(p[0:])
	info.HardwareVersion = binary.BigEndian.Uint32(p[4:])
	info.SoftwareVersion = binary.BigEndian.Uint32(p[8:])
	info.ParameterCount = p[12]
	info.ParameterVersion = p[13]
	return info, true
}
