package crsf

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelPackingLayout(t *testing.T) {
	testCases := []struct {
		name   string
		ch     ChannelData
		expect map[int]byte
	}{
		{
			name:   "first channel",
			ch:     ChannelData{0x7ff},
			expect: map[int]byte{0: 0xff, 1: 0x07},
		},
		{
			name:   "second channel",
			ch:     ChannelData{0, 0x7ff},
			expect: map[int]byte{1: 0xf8, 2: 0x3f},
		},
		{
			name:   "last channel",
			ch:     ChannelData{15: 0x7ff},
			expect: map[int]byte{20: 0xe0, 21: 0xff},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, ChannelsPayloadLen)
			tc.ch.Pack(buf)
			for n, b := range buf {
				require.Equal(t, tc.expect[n], b, "byte %d", n)
			}
			require.Equal(t, tc.ch, UnpackChannels(buf))
		})
	}
}

func TestChannelRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for n := 0; n < 100; n++ {
		var ch ChannelData
		for i := range ch {
			ch[i] = uint16(r.Intn(1 << ChannelBits))
		}
		frame := ch.Frame()
		require.Len(t, frame, RCFrameLen)
		require.NoError(t, frame.Validate())
		require.Equal(t, ch, UnpackChannels(frame.Payload()))

		decoded, err := DecodeChannels(ch.Bytes())
		require.NoError(t, err)
		require.Equal(t, ch, decoded)
	}
}

func TestChannelWireFormat(t *testing.T) {
	ch := MidChannels()
	ch[1] = ChannelValueMax
	buf := ch.Bytes()
	require.Len(t, buf, ChannelsWireLen)
	require.Equal(t, []byte{0xe0, 0x03, 0x13, 0x07}, buf[:4])
	_, err := DecodeChannels(buf[:31])
	require.Error(t, err)
}

func TestToMicroseconds(t *testing.T) {
	require.Equal(t, 1500, ToMicroseconds(ChannelValueMid))
	require.Equal(t, 988, ToMicroseconds(ChannelValueMin))
	require.Equal(t, 2011, ToMicroseconds(ChannelValueMax))
}
