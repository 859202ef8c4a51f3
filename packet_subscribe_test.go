package mqtt311

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePacketType(t *testing.T) {
	assert.Equal(t, PacketSUBSCRIBE, (&SubscribePacket{}).Type())
	assert.Equal(t, PacketSUBACK, (&SubackPacket{}).Type())
}

func TestSubscribePacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet SubscribePacket
	}{
		{
			name: "single filter",
			packet: SubscribePacket{
				ID: 1,
				Subscriptions: []Subscription{
					{TopicFilter: "a/b", QoS: 0},
				},
			},
		},
		{
			name: "multiple filters mixed qos",
			packet: SubscribePacket{
				ID: 65535,
				Subscriptions: []Subscription{
					{TopicFilter: "sensors/+/temperature", QoS: 1},
					{TopicFilter: "alerts/#", QoS: 2},
					{TopicFilter: "status", QoS: 0},
				},
			},
		},
		{
			name: "wildcard only",
			packet: SubscribePacket{
				ID: 42,
				Subscriptions: []Subscription{
					{TopicFilter: "#", QoS: 1},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := tt.packet.Encode(&buf)
			require.NoError(t, err)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, PacketSUBSCRIBE, header.PacketType)
			assert.Equal(t, byte(0x02), header.Flags)

			var decoded SubscribePacket
			_, err = decoded.Decode(&buf, header)
			require.NoError(t, err)

			assert.Equal(t, tt.packet.ID, decoded.ID)
			assert.Equal(t, tt.packet.Subscriptions, decoded.Subscriptions)
		})
	}
}

func TestSubscribePacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		packet  SubscribePacket
		wantErr error
	}{
		{
			name: "valid",
			packet: SubscribePacket{
				ID:            1,
				Subscriptions: []Subscription{{TopicFilter: "a/b", QoS: 1}},
			},
		},
		{
			name: "zero packet id",
			packet: SubscribePacket{
				Subscriptions: []Subscription{{TopicFilter: "a", QoS: 0}},
			},
			wantErr: ErrInvalidPacketID,
		},
		{
			name:    "no subscriptions",
			packet:  SubscribePacket{ID: 1},
			wantErr: ErrNoSubscriptions,
		},
		{
			name: "invalid qos",
			packet: SubscribePacket{
				ID:            1,
				Subscriptions: []Subscription{{TopicFilter: "a", QoS: 3}},
			},
			wantErr: ErrInvalidQoS,
		},
		{
			name: "invalid filter",
			packet: SubscribePacket{
				ID:            1,
				Subscriptions: []Subscription{{TopicFilter: "a/#/b", QoS: 0}},
			},
			wantErr: ErrInvalidTopicFilter,
		},
		{
			name: "empty filter",
			packet: SubscribePacket{
				ID:            1,
				Subscriptions: []Subscription{{TopicFilter: "", QoS: 0}},
			},
			wantErr: ErrEmptyTopic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubscribePacketDecodeBadFlags(t *testing.T) {
	p := &SubscribePacket{
		ID:            1,
		Subscriptions: []Subscription{{TopicFilter: "a", QoS: 0}},
	}

	var buf bytes.Buffer
	_, err := p.Encode(&buf)
	require.NoError(t, err)

	var header FixedHeader
	_, err = header.Decode(&buf)
	require.NoError(t, err)
	header.Flags = 0x00

	var decoded SubscribePacket
	_, err = decoded.Decode(&buf, header)
	assert.ErrorIs(t, err, ErrInvalidPacketFlags)
}

func TestSubackPacketEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet SubackPacket
	}{
		{
			name:   "single granted",
			packet: SubackPacket{ID: 1, ReturnCodes: []byte{0x01}},
		},
		{
			name:   "mixed grants and failure",
			packet: SubackPacket{ID: 9, ReturnCodes: []byte{0x00, 0x02, SubackFailure}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := tt.packet.Encode(&buf)
			require.NoError(t, err)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)

			var decoded SubackPacket
			_, err = decoded.Decode(&buf, header)
			require.NoError(t, err)

			assert.Equal(t, tt.packet.ID, decoded.ID)
			assert.Equal(t, tt.packet.ReturnCodes, decoded.ReturnCodes)
		})
	}
}

func TestSubackPacketDecodeInvalidCode(t *testing.T) {
	header := FixedHeader{
		PacketType:      PacketSUBACK,
		RemainingLength: 3,
	}

	var p SubackPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x00, 0x01, 0x03}), header)
	assert.ErrorIs(t, err, ErrInvalidSubackQoS)
}

func TestSubackPacketDecodeTooShort(t *testing.T) {
	header := FixedHeader{
		PacketType:      PacketSUBACK,
		RemainingLength: 2,
	}

	var p SubackPacket
	_, err := p.Decode(bytes.NewReader([]byte{0x00, 0x01}), header)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestSubackPacketValidate(t *testing.T) {
	tests := []struct {
		name    string
		packet  SubackPacket
		wantErr error
	}{
		{
			name:   "valid",
			packet: SubackPacket{ID: 1, ReturnCodes: []byte{0x00}},
		},
		{
			name:    "zero packet id",
			packet:  SubackPacket{ReturnCodes: []byte{0x00}},
			wantErr: ErrInvalidPacketID,
		},
		{
			name:    "no return codes",
			packet:  SubackPacket{ID: 1},
			wantErr: ErrNoReturnCodes,
		},
		{
			name:    "invalid return code",
			packet:  SubackPacket{ID: 1, ReturnCodes: []byte{0x7F}},
			wantErr: ErrInvalidSubackQoS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.packet.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
