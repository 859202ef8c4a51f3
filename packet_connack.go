package mqtt311

import (
	"errors"
	"io"
)

// ConnackCode is the CONNACK return code.
type ConnackCode byte

// CONNACK return codes.
const (
	ConnackAccepted           ConnackCode = 0
	ConnackBadProtocolVersion ConnackCode = 1
	ConnackIDRejected         ConnackCode = 2
	ConnackServerUnavailable  ConnackCode = 3
	ConnackBadCredentials     ConnackCode = 4
	ConnackNotAuthorized      ConnackCode = 5
)

// String returns the string representation of the return code.
func (c ConnackCode) String() string {
	switch c {
	case ConnackAccepted:
		return "connection accepted"
	case ConnackBadProtocolVersion:
		return "unacceptable protocol version"
	case ConnackIDRejected:
		return "identifier rejected"
	case ConnackServerUnavailable:
		return "server unavailable"
	case ConnackBadCredentials:
		return "bad user name or password"
	case ConnackNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// Valid returns true if the return code is defined by the protocol.
func (c ConnackCode) Valid() bool {
	return c <= ConnackNotAuthorized
}

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
	ErrInvalidReturnCode   = errors.New("invalid CONNACK return code")
)

// ConnackPacket represents an MQTT CONNACK packet.
type ConnackPacket struct {
	// SessionPresent indicates if a session exists from a previous connection.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ConnackCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}

	header := FixedHeader{
		PacketType:      PacketCONNACK,
		Flags:           0x00,
		RemainingLength: 2,
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write([]byte{flags, byte(p.ReturnCode)})
	return total + n, err
}

// Decode reads the packet from the reader.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}
	if header.RemainingLength != 2 {
		return 0, ErrMalformedPacket
	}

	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	// Reserved bits of the acknowledge flags must be 0
	if buf[0]&0xFE != 0 {
		return n, ErrInvalidConnackFlags
	}

	p.SessionPresent = buf[0]&0x01 != 0
	p.ReturnCode = ConnackCode(buf[1])

	if !p.ReturnCode.Valid() {
		return n, ErrInvalidReturnCode
	}

	return n, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	if !p.ReturnCode.Valid() {
		return ErrInvalidReturnCode
	}

	// A rejected connection never resumes a session
	if p.ReturnCode != ConnackAccepted && p.SessionPresent {
		return ErrInvalidConnackFlags
	}

	return nil
}
