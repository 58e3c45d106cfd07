package status

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/crsflink/pkg/bridge"
	"github.com/robotalks/crsflink/pkg/crsf"
)

// TypeID masks and groups.
const (
	TypeIDKindEvent uint32 = 0x80000000
	GroupLink       uint32 = 0x00c80000
)

// TypeIDs
const (
	LinkStatusTypeID    uint32 = TypeIDKindEvent | GroupLink | 0x0001
	ChannelsEventTypeID uint32 = TypeIDKindEvent | GroupLink | 0x0002
)

// Message is a serializable status message.
type Message interface {
	proto.Message
	TypeID() uint32
	NewMessage() Message
}

// MessageTypes maps type ids to messages.
var MessageTypes = map[uint32]Message{
	LinkStatusTypeID:    (*LinkStatus)(nil),
	ChannelsEventTypeID: (*ChannelsEvent)(nil),
}

// UnknownTypeError indicates an unknown type id.
type UnknownTypeError struct {
	TypeID uint32
}

// Error implements error.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

// Typed wraps an encoded message with its type id.
type Typed struct {
	TypeId  uint32 `protobuf:"varint,1,opt,name=type_id,json=typeId,proto3" json:"type_id,omitempty"`
	Message []byte `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Typed) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Typed) Reset() { *m = Typed{} }

// String implements proto.Message.
func (m *Typed) String() string { return proto.CompactTextString(m) }

// Encode encodes a message with its type id.
func Encode(msg Message) ([]byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&Typed{TypeId: msg.TypeID(), Message: data})
}

// Decode decodes bytes produced by Encode.
func Decode(data []byte) (Message, error) {
	var typed Typed
	if err := proto.Unmarshal(data, &typed); err != nil {
		return nil, err
	}
	msgType, ok := MessageTypes[typed.TypeId]
	if !ok {
		return nil, &UnknownTypeError{TypeID: typed.TypeId}
	}
	msg := msgType.NewMessage()
	if err := proto.Unmarshal(typed.Message, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// LinkStatus is the periodic status event of a bridge.
type LinkStatus struct {
	BridgeId        string `protobuf:"bytes,1,opt,name=bridge_id,proto3" json:"bridge_id,omitempty"`
	State           string `protobuf:"bytes,2,opt,name=state,proto3" json:"state,omitempty"`
	Model           uint32 `protobuf:"varint,3,opt,name=model,proto3" json:"model"`
	Peer            string `protobuf:"bytes,4,opt,name=peer,proto3" json:"peer,omitempty"`
	Baud            uint32 `protobuf:"varint,5,opt,name=baud,proto3" json:"baud,omitempty"`
	Connected       bool   `protobuf:"varint,6,opt,name=connected,proto3" json:"connected"`
	GoodFrames      uint64 `protobuf:"varint,7,opt,name=good_frames,proto3" json:"good_frames"`
	BadFrames       uint64 `protobuf:"varint,8,opt,name=bad_frames,proto3" json:"bad_frames"`
	BaudSwitches    uint64 `protobuf:"varint,9,opt,name=baud_switches,proto3" json:"baud_switches"`
	PhaseErrorUs    int64  `protobuf:"varint,10,opt,name=phase_error_us,proto3" json:"phase_error_us"`
	HandsetOffsetUs int64  `protobuf:"varint,11,opt,name=handset_offset_us,proto3" json:"handset_offset_us"`
	PhaseLocked     bool   `protobuf:"varint,12,opt,name=phase_locked,proto3" json:"phase_locked"`
	Sent            uint64 `protobuf:"varint,13,opt,name=sent,proto3" json:"sent"`
	Rejected        uint64 `protobuf:"varint,14,opt,name=rejected,proto3" json:"rejected"`
	NoPeer          uint64 `protobuf:"varint,15,opt,name=no_peer,proto3" json:"no_peer"`
	Delivered       uint64 `protobuf:"varint,16,opt,name=delivered,proto3" json:"delivered"`
	Failed          uint64 `protobuf:"varint,17,opt,name=failed,proto3" json:"failed"`
	LinkQuality     uint32 `protobuf:"varint,18,opt,name=link_quality,proto3" json:"link_quality"`
	TimestampMs     int64  `protobuf:"varint,19,opt,name=timestamp_ms,proto3" json:"timestamp_ms,omitempty"`
}

// NewLinkStatus creates a LinkStatus from a snapshot.
func NewLinkStatus(id string, s bridge.Snapshot) *LinkStatus {
	return &LinkStatus{
		BridgeId:        id,
		State:           s.State.String(),
		Model:           uint32(s.Model),
		Peer:            string(s.Peer),
		Baud:            uint32(s.Handset.Baud),
		Connected:       s.Handset.Connected,
		GoodFrames:      s.Handset.TotalGood,
		BadFrames:       s.Handset.TotalBad,
		BaudSwitches:    s.Handset.BaudSwitches,
		PhaseErrorUs:    int64(s.Phase.Error / time.Microsecond),
		HandsetOffsetUs: int64(s.Phase.HandsetOffset / time.Microsecond),
		PhaseLocked:     s.Phase.Locked,
		Sent:            s.Sends.Sent,
		Rejected:        s.Sends.Rejected,
		NoPeer:          s.Sends.NoPeer,
		Delivered:       s.Sends.Delivered,
		Failed:          s.Sends.Failed,
		LinkQuality:     uint32(s.LinkQuality),
		TimestampMs:     s.Time.UnixNano() / int64(time.Millisecond),
	}
}

// NewMessage implements Message.
func (m *LinkStatus) NewMessage() Message { return &LinkStatus{} }

// TypeID implements Message.
func (m *LinkStatus) TypeID() uint32 { return LinkStatusTypeID }

// ProtoMessage implements proto.Message.
func (m *LinkStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *LinkStatus) Reset() { *m = LinkStatus{} }

// String implements proto.Message.
func (m *LinkStatus) String() string { return proto.CompactTextString(m) }

// ChannelsEvent carries the channels forwarded to the model, in
// microseconds.
type ChannelsEvent struct {
	BridgeId    string   `protobuf:"bytes,1,opt,name=bridge_id,proto3" json:"bridge_id,omitempty"`
	Model       uint32   `protobuf:"varint,2,opt,name=model,proto3" json:"model"`
	Channels    []uint32 `protobuf:"varint,3,rep,packed,name=channels,proto3" json:"channels"`
	TimestampMs int64    `protobuf:"varint,4,opt,name=timestamp_ms,proto3" json:"timestamp_ms,omitempty"`
}

// NewChannelsEvent creates a ChannelsEvent from a snapshot.
func NewChannelsEvent(id string, s bridge.Snapshot) *ChannelsEvent {
	ev := &ChannelsEvent{
		BridgeId:    id,
		Model:       uint32(s.Model),
		Channels:    make([]uint32, len(s.Channels)),
		TimestampMs: s.Time.UnixNano() / int64(time.Millisecond),
	}
	for n, v := range s.Channels {
		ev.Channels[n] = uint32(crsf.ToMicroseconds(v))
	}
	return ev
}

// NewMessage implements Message.
func (m *ChannelsEvent) NewMessage() Message { return &ChannelsEvent{} }

// TypeID implements Message.
func (m *ChannelsEvent) TypeID() uint32 { return ChannelsEventTypeID }

// ProtoMessage implements proto.Message.
func (m *ChannelsEvent) ProtoMessage() {}

// Reset implements proto.Message.
func (m *ChannelsEvent) Reset() { *m = ChannelsEvent{} }

// String implements proto.Message.
func (m *ChannelsEvent) String() string { return proto.CompactTextString(m) }
