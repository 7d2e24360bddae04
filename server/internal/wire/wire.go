// Package wire adapts the Mumble 1.2.4 control-channel framing to a small
// sum-typed Packet the rest of the server consumes. Framing is a 2-byte
// big-endian packet type followed by a 4-byte big-endian length followed by
// the payload, per the Mumble wire format; protobuf bodies are
// layeh.com/gumble/gumble/MumbleProto messages.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/protobuf/proto"
	"layeh.com/gumble/gumble/MumbleProto"
)

// packetType is the 2-byte type tag in the Mumble control-channel framing.
type packetType uint16

const (
	typeVersion      packetType = 0
	typeUDPTunnel    packetType = 1
	typeAuthenticate packetType = 2
	typePing         packetType = 3
	typeTextMessage  packetType = 11
)

const maxPacketLen = 8 * 1024 * 1024

// Kind discriminates the Packet variants the routing core understands.
type Kind int

const (
	KindVersion Kind = iota
	KindAuthenticate
	KindPing
	KindTextMessage
	KindUDPTunnel
	KindUnknown
)

// Packet is the decoded form of one framed control message. Only the field
// matching Kind is populated.
type Packet struct {
	Kind          Kind
	Version       *MumbleProto.Version
	Authenticate  *MumbleProto.Authenticate
	Ping          *MumbleProto.Ping
	TextMessage   *MumbleProto.TextMessage
	UDPTunnel     []byte
	UnknownType   uint16
}

// Conn wraps a net.Conn with Mumble framing.
type Conn struct {
	nc net.Conn
}

// New wraps an established connection for framed packet I/O.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// SetReadDeadline delegates to the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

// ReadPacket blocks until one framed control packet is read and decoded.
func (c *Conn) ReadPacket() (Packet, error) {
	var header [6]byte
	if _, err := io.ReadFull(c.nc, header[:]); err != nil {
		return Packet{}, err
	}
	typ := packetType(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])
	if length > maxPacketLen {
		return Packet{}, fmt.Errorf("wire: packet too large: %d bytes", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return Packet{}, fmt.Errorf("wire: read body: %w", err)
	}
	return decode(typ, body)
}

func decode(typ packetType, body []byte) (Packet, error) {
	switch typ {
	case typeVersion:
		msg := new(MumbleProto.Version)
		if err := proto.Unmarshal(body, msg); err != nil {
			return Packet{}, fmt.Errorf("wire: decode Version: %w", err)
		}
		return Packet{Kind: KindVersion, Version: msg}, nil
	case typeAuthenticate:
		msg := new(MumbleProto.Authenticate)
		if err := proto.Unmarshal(body, msg); err != nil {
			return Packet{}, fmt.Errorf("wire: decode Authenticate: %w", err)
		}
		return Packet{Kind: KindAuthenticate, Authenticate: msg}, nil
	case typePing:
		msg := new(MumbleProto.Ping)
		if err := proto.Unmarshal(body, msg); err != nil {
			return Packet{}, fmt.Errorf("wire: decode Ping: %w", err)
		}
		return Packet{Kind: KindPing, Ping: msg}, nil
	case typeTextMessage:
		msg := new(MumbleProto.TextMessage)
		if err := proto.Unmarshal(body, msg); err != nil {
			return Packet{}, fmt.Errorf("wire: decode TextMessage: %w", err)
		}
		return Packet{Kind: KindTextMessage, TextMessage: msg}, nil
	case typeUDPTunnel:
		return Packet{Kind: KindUDPTunnel, UDPTunnel: body}, nil
	default:
		return Packet{Kind: KindUnknown, UnknownType: uint16(typ)}, nil
	}
}

// WriteVersion sends a Version control packet.
func (c *Conn) WriteVersion(v *MumbleProto.Version) error {
	return c.writeProto(typeVersion, v)
}

// WritePing sends a Ping control packet.
func (c *Conn) WritePing(p *MumbleProto.Ping) error {
	return c.writeProto(typePing, p)
}

// WriteTextMessage sends a TextMessage control packet.
func (c *Conn) WriteTextMessage(t *MumbleProto.TextMessage) error {
	return c.writeProto(typeTextMessage, t)
}

// WriteAuthenticate sends an Authenticate control packet.
func (c *Conn) WriteAuthenticate(a *MumbleProto.Authenticate) error {
	return c.writeProto(typeAuthenticate, a)
}

// WriteUDPTunnel sends a raw UDP-tunneled voice payload.
func (c *Conn) WriteUDPTunnel(payload []byte) error {
	return c.writeFrame(typeUDPTunnel, payload)
}

func (c *Conn) writeProto(typ packetType, msg proto.Message) error {
	body, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	return c.writeFrame(typ, body)
}

func (c *Conn) writeFrame(typ packetType, body []byte) error {
	var header [6]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(typ))
	binary.BigEndian.PutUint32(header[2:6], uint32(len(body)))
	if _, err := c.nc.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := c.nc.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}
