package mqtt311

import (
	"errors"
	"io"
)

// Codec errors.
var (
	// ErrMalformedPacket reports a packet whose contents violate the
	// protocol's framing rules. The connection carrying it must be closed.
	ErrMalformedPacket = errors.New("mqtt311: malformed packet")

	// ErrPacketTooLarge reports a packet exceeding the configured maximum size.
	ErrPacketTooLarge = errors.New("mqtt311: packet exceeds maximum size")

	// ErrUnknownPacketType reports a reserved or unknown packet type nibble.
	ErrUnknownPacketType = errors.New("mqtt311: unknown packet type")

	// ErrNeedMoreData reports that the supplied buffer does not yet hold a
	// complete packet. It is not a failure; feed more bytes and retry.
	ErrNeedMoreData = errors.New("mqtt311: need more data")
)

// Inbound packet size limits.
const (
	// MaxPacketSizeProtocol is the largest body the protocol can frame.
	MaxPacketSizeProtocol = maxVarint

	// MaxPacketSizeDefault is the limit applied when none is configured.
	MaxPacketSizeDefault = 4 * 1024 * 1024

	// MaxPacketSizeMinimal suits constrained devices.
	MaxPacketSizeMinimal = 16 * 1024
)

// newPacket creates an empty packet struct for the given type.
func newPacket(packetType PacketType) (Packet, error) {
	switch packetType {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// decodeBody decodes a packet body from a fully buffered remaining-length
// region, enforcing that the body is consumed exactly.
func decodeBody(header FixedHeader, body []byte) (Packet, error) {
	if err := header.ValidateFlags(); err != nil {
		return nil, err
	}

	packet, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}

	reader := newBytesReader(body)
	consumed, err := packet.Decode(reader, header)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// The body ended before the packet structure did.
			return nil, ErrMalformedPacket
		}
		return nil, err
	}

	// The remaining length must cover the body exactly.
	if uint32(consumed) != header.RemainingLength {
		return nil, ErrMalformedPacket
	}

	return packet, nil
}

// ReadPacket reads a complete MQTT packet from the reader.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, body)
		n += rn
		if err != nil {
			return nil, n, err
		}
	}

	packet, err := decodeBody(header, body)
	if err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// Decode decodes a single MQTT packet from the front of buf without
// blocking. It returns the packet and the number of bytes consumed.
// When buf holds less than a complete packet it returns ErrNeedMoreData
// and consumes nothing, so callers can accumulate bytes and retry.
func Decode(buf []byte, maxSize uint32) (Packet, int, error) {
	if len(buf) < 2 {
		return nil, 0, ErrNeedMoreData
	}

	packetType := PacketType(buf[0] >> 4)
	if !packetType.Valid() {
		return nil, 0, ErrInvalidPacketType
	}

	remaining, varintLen, err := peekVarint(buf[1:])
	if err != nil {
		if errors.Is(err, ErrNeedMoreData) {
			return nil, 0, ErrNeedMoreData
		}
		return nil, 0, err
	}

	if maxSize > 0 && remaining > maxSize {
		return nil, 0, ErrPacketTooLarge
	}

	headerLen := 1 + varintLen
	total := headerLen + int(remaining)
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           buf[0] & 0x0F,
		RemainingLength: remaining,
	}

	packet, err := decodeBody(header, buf[headerLen:total])
	if err != nil {
		return nil, 0, err
	}

	return packet, total, nil
}

// peekVarint decodes a variable byte integer from the front of buf.
// Returns ErrNeedMoreData if buf ends inside the varint.
func peekVarint(buf []byte) (uint32, int, error) {
	var value uint32
	var multiplier uint32 = 1

	for i := range buf {
		if i >= 4 {
			return 0, 0, ErrVarintMalformed
		}

		encodedByte := buf[i]
		value += uint32(encodedByte&varintValueMask) * multiplier

		if value > maxVarint {
			return 0, 0, ErrVarintTooLarge
		}

		if encodedByte&varintContinueBit == 0 {
			return value, i + 1, nil
		}

		multiplier *= 128
	}

	if len(buf) >= 4 {
		return 0, 0, ErrVarintMalformed
	}
	return 0, 0, ErrNeedMoreData
}

// WritePacket writes a complete MQTT packet to the writer.
// If maxSize is greater than 0, packets larger than maxSize will return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, maxSize uint32) (int, error) {
	if err := packet.Validate(); err != nil {
		return 0, err
	}

	// If max size check is needed, encode to buffer first
	if maxSize > 0 {
		var buf bytesBuffer
		n, err := packet.Encode(&buf)
		if err != nil {
			return 0, err
		}
		if uint32(n) > maxSize {
			return 0, ErrPacketTooLarge
		}
		return w.Write(buf.Bytes())
	}

	return packet.Encode(w)
}

// bytesReader wraps a byte slice for io.Reader interface.
type bytesReader struct {
	data []byte
	pos  int
}

func newBytesReader(data []byte) *bytesReader {
	return &bytesReader{data: data}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// bytesBuffer is a simple buffer for encoding.
type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bytesBuffer) Bytes() []byte {
	return b.data
}
