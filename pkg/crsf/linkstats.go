package crsf

import "errors"

// LinkStatisticsLen is the payload length of a link statistics frame.
const LinkStatisticsLen = 10

// ErrLinkStatisticsLen indicates a malformed link statistics payload.
var ErrLinkStatisticsLen = errors.New("invalid link statistics length")

// LinkStatistics is reported to the handset and shown as telemetry.
type LinkStatistics struct {
	UplinkRSSI1   byte
	UplinkRSSI2   byte
	UplinkLQ      byte
	UplinkSNR     int8
	ActiveAntenna byte
	RFMode        byte
	UplinkTXPower byte
	DownlinkRSSI  byte
	DownlinkLQ    byte
	DownlinkSNR   int8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *LinkStatistics) MarshalBinary() ([]byte, error) {
	return []byte{
		s.UplinkRSSI1,
		s.UplinkRSSI2,
		s.UplinkLQ,
		byte(s.UplinkSNR),
		s.ActiveAntenna,
		s.RFMode,
		s.UplinkTXPower,
		s.DownlinkRSSI,
		s.DownlinkLQ,
		byte(s.DownlinkSNR),
	}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *LinkStatistics) UnmarshalBinary(data []byte) error {
	if len(data) != LinkStatisticsLen {
		return ErrLinkStatisticsLen
	}
	*s = LinkStatistics{
		UplinkRSSI1:   data[0],
		UplinkRSSI2:   data[1],
		UplinkLQ:      data[2],
		UplinkSNR:     int8(data[3]),
		ActiveAntenna: data[4],
		RFMode:        data[5],
		UplinkTXPower: data[6],
		DownlinkRSSI:  data[7],
		DownlinkLQ:    data[8],
		DownlinkSNR:   int8(data[9]),
	}
	return nil
}

// Frame builds the link statistics frame addressed to the handset.
func (s *LinkStatistics) Frame() Frame {
	payload, _ := s.MarshalBinary()
	frame, _ := BuildFrame(TypeLinkStatistics, AddrHandset, payload)
	return frame
}
