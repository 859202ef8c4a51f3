package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingPacketTypes(t *testing.T) {
	assert.Equal(t, PacketPINGREQ, (&PingreqPacket{}).Type())
	assert.Equal(t, PacketPINGRESP, (&PingrespPacket{}).Type())
}

func TestPingPacketWireFormat(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   []byte
	}{
		{
			name:   "pingreq",
			packet: &PingreqPacket{},
			want:   []byte{0xC0, 0x00},
		},
		{
			name:   "pingresp",
			packet: &PingrespPacket{},
			want:   []byte{0xD0, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.packet.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, tt.want, buf.Bytes())

			decoded, _, err := ReadPacket(&buf, MaxPacketSizeDefault)
			require.NoError(t, err)
			assert.Equal(t, tt.packet.Type(), decoded.Type())
			assert.NoError(t, decoded.Validate())
		})
	}
}

func TestPingPacketDecodeNonZeroLength(t *testing.T) {
	header := FixedHeader{
		PacketType:      PacketPINGREQ,
		RemainingLength: 1,
	}

	var p PingreqPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x00}), header)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
