// Package connection implements the client's connection actor: handshake,
// keepalive ping, and bidirectional dispatch between the server socket and
// the codec actor.
package connection

import (
	"errors"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"
	"layeh.com/gumble/gumble/MumbleProto"

	"stutter/internal/model"
	"stutter/internal/wire"
)

// ErrVersionMismatch is returned by Handshake when the server advertises a
// different protocol version than this client's.
var ErrVersionMismatch = errors.New("connection: server protocol version mismatch")

// Codec is the subset of the audio-codec actor the connection actor
// delivers inbound voice to.
type Codec interface {
	// Inbound delivers a decoded UDPTunnel payload. Implementations must
	// not block; a full or closed codec silently drops the frame.
	Inbound(payload []byte)
}

// outboundMsg is the sum type accepted on the connection's outbound queue.
type outboundMsg struct {
	voice *model.Voice
	text  *MumbleProto.TextMessage
}

// Connection is the client connection actor.
type Connection struct {
	conn    *wire.Conn
	codec   Codec
	timeout time.Duration
	log     *slog.Logger

	outbound chan outboundMsg
}

// New constructs a connection actor over an already-dialed socket.
// timeout is the session timeout; the client pings at timeout/2. Pass a nil
// codec when the codec actor has not been constructed yet (it typically
// depends on this Connection to send voice) and wire it in with SetCodec
// before calling Run.
func New(conn *wire.Conn, codec Codec, timeout time.Duration, log *slog.Logger) *Connection {
	return &Connection{
		conn:     conn,
		codec:    codec,
		timeout:  timeout,
		log:      log,
		outbound: make(chan outboundMsg, 64),
	}
}

// SetCodec wires the codec actor in after construction, breaking the
// Connection/Codec initialization cycle (the codec actor needs a Connection
// to send voice through).
func (c *Connection) SetCodec(codec Codec) {
	c.codec = codec
}

// SendVoice queues an encoded voice frame for transmission. Best-effort,
// non-blocking: a full queue silently drops the frame.
func (c *Connection) SendVoice(v model.Voice) {
	select {
	case c.outbound <- outboundMsg{voice: &v}:
	default:
	}
}

// SendText queues a control packet for verbatim transmission.
func (c *Connection) SendText(t *MumbleProto.TextMessage) {
	select {
	case c.outbound <- outboundMsg{text: t}:
	default:
	}
}

// Handshake sends the local version, reads the server's, and sends an
// empty Authenticate. Persistent users are out of scope, so no
// username/password/tokens are populated.
func (c *Connection) Handshake() error {
	if err := c.conn.WriteVersion(&MumbleProto.Version{
		Version: proto.Uint32(uint32(model.ClientVersion)),
		Release: proto.String("stutter"),
	}); err != nil {
		return err
	}
	pkt, err := c.conn.ReadPacket()
	if err != nil {
		return err
	}
	if pkt.Kind != wire.KindVersion {
		return ErrVersionMismatch
	}
	if pkt.Version.GetVersion() != uint32(model.ClientVersion) {
		return ErrVersionMismatch
	}
	return c.conn.WriteAuthenticate(&MumbleProto.Authenticate{})
}

// Run drives the main loop: ping timer, outbound dispatch, inbound
// dispatch. It returns when the connection terminates for any reason.
func (c *Connection) Run() {
	defer c.conn.Close()

	fromServer := make(chan readResult, 8)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			pkt, err := c.conn.ReadPacket()
			select {
			case fromServer <- readResult{pkt: pkt, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(c.timeout / 2)
	defer pingTicker.Stop()

	for {
		select {
		case r := <-fromServer:
			if r.err != nil {
				c.log.Debug("connection: read terminated", "err", r.err)
				return
			}
			c.dispatchInbound(r.pkt)
		case msg := <-c.outbound:
			if !c.writeOutbound(msg) {
				return
			}
		case <-pingTicker.C:
			ping := &MumbleProto.Ping{Timestamp: proto.Uint64(uint64(time.Now().Unix()))}
			if err := c.conn.WritePing(ping); err != nil {
				c.log.Debug("connection: ping write failed", "err", err)
				return
			}
		}
	}
}

type readResult struct {
	pkt wire.Packet
	err error
}

func (c *Connection) dispatchInbound(pkt wire.Packet) {
	switch pkt.Kind {
	case wire.KindPing:
		c.log.Debug("connection: pong received", "timestamp", pkt.Ping.GetTimestamp())
	case wire.KindUDPTunnel:
		c.codec.Inbound(pkt.UDPTunnel)
	default:
		// Other control traffic (text, channel state, user state) is
		// delivered upward to the UI, which is out of scope here.
	}
}

func (c *Connection) writeOutbound(msg outboundMsg) bool {
	switch {
	case msg.voice != nil:
		if err := c.conn.WriteUDPTunnel(wire.EncodeVoice(*msg.voice)); err != nil {
			c.log.Debug("connection: voice write failed", "err", err)
			return false
		}
	case msg.text != nil:
		if err := c.conn.WriteTextMessage(msg.text); err != nil {
			c.log.Debug("connection: text write failed", "err", err)
			return false
		}
	}
	return true
}
