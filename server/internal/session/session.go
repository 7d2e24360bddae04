// Package session implements the per-connection protocol actor: handshake,
// keepalive, and bidirectional dispatch between a client socket and the
// control/routing actors.
package session

import (
	"errors"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"
	"layeh.com/gumble/gumble/MumbleProto"

	"stammer/internal/model"
	"stammer/internal/routing"
	"stammer/internal/wire"
)

// ErrVersionHandshakeFailed is returned when greeting fails to complete; the
// caller should terminate the session silently without notifying control.
var ErrVersionHandshakeFailed = errors.New("session: version handshake failed")

// Control is the subset of *routing.Control a session needs.
type Control interface {
	SendAddSession(routing.AddSession)
	SendPacket(routing.PacketMsg)
	SendRemoveSession(routing.RemoveSession)
}

// Router is the subset of *routing.Router a session needs.
type Router interface {
	SendVoice(routing.VoiceMsg)
	SendText(routing.TextMsg)
}

// Session is the per-connection actor.
type Session struct {
	id      model.SessionID
	conn    *wire.Conn
	control Control
	router  Router
	timeout time.Duration
	log     *slog.Logger

	inbox chan routing.ClientBound
}

// New constructs a session actor. timeout is the keepalive idle timeout.
func New(id model.SessionID, conn *wire.Conn, control Control, router Router, timeout time.Duration, log *slog.Logger) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		control: control,
		router:  router,
		timeout: timeout,
		log:     log.With("session_id", id),
		inbox:   make(chan routing.ClientBound, 64),
	}
}

// Sink returns the send end other actors use to deliver client-bound
// messages to this session. Only valid to hand out after the session has
// entered Unauthenticated (i.e. after AddSession has been sent).
func (s *Session) Sink() routing.Sink { return s.inbox }

// Run executes the full session lifecycle: Greeting, Unauthenticated /
// Authenticated main loop, and Terminating cleanup. It returns when the
// session ends, for whatever reason.
func (s *Session) Run() {
	defer s.conn.Close()
	defer close(s.inbox)

	version, err := s.greet()
	if err != nil {
		s.log.Debug("session: greeting failed", "err", err)
		return
	}

	s.control.SendAddSession(routing.AddSession{
		ID:      s.id,
		Version: version,
		Sink:    s.inbox,
	})

	s.mainLoop()

	s.control.SendRemoveSession(routing.RemoveSession{ID: s.id})
}

// greet sends the local server version and reads the client's version
// packet. It returns the client's advertised version, or an error if the
// handshake did not complete.
func (s *Session) greet() (model.Version, error) {
	if err := s.conn.WriteVersion(versionMessage(model.ServerVersion)); err != nil {
		return 0, err
	}
	pkt, err := s.conn.ReadPacket()
	if err != nil {
		return 0, err
	}
	if pkt.Kind != wire.KindVersion {
		return 0, ErrVersionHandshakeFailed
	}
	return model.Version(pkt.Version.GetVersion()), nil
}

type clientRead struct {
	pkt wire.Packet
	err error
}

func (s *Session) mainLoop() {
	fromClient := make(chan clientRead, 8)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			pkt, err := s.conn.ReadPacket()
			select {
			case fromClient <- clientRead{pkt: pkt, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	lastPing := time.Now()
	ticker := time.NewTicker(s.timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case r := <-fromClient:
			if r.err != nil {
				s.log.Debug("session: read terminated", "err", r.err)
				return
			}
			if !s.dispatch(r.pkt, &lastPing) {
				return
			}
		case cb := <-s.inbox:
			if !s.writeClientBound(cb) {
				return
			}
		case <-ticker.C:
			if time.Since(lastPing) > s.timeout {
				s.log.Debug("session: keepalive timeout")
				return
			}
		}
	}
}

func (s *Session) dispatch(pkt wire.Packet, lastPing *time.Time) bool {
	switch pkt.Kind {
	case wire.KindPing:
		*lastPing = time.Now()
		pong := &MumbleProto.Ping{Timestamp: pkt.Ping.Timestamp}
		if err := s.conn.WritePing(pong); err != nil {
			s.log.Debug("session: pong write failed", "err", err)
			return false
		}
		return true
	case wire.KindUDPTunnel:
		v, ok, err := wire.DecodeVoice(s.id, pkt.UDPTunnel)
		if err != nil {
			s.log.Debug("session: voice decode failed", "err", err)
			return true
		}
		if !ok {
			return true // non-Opus payload, silently dropped
		}
		s.router.SendVoice(routing.VoiceMsg{SenderID: s.id, Packet: v})
		return true
	case wire.KindTextMessage:
		s.router.SendText(routing.TextMsg{SenderID: s.id, Message: textFromProto(pkt.TextMessage)})
		return true
	case wire.KindAuthenticate:
		s.control.SendPacket(routing.PacketMsg{ID: s.id, Authenticate: true})
		return true
	default:
		s.control.SendPacket(routing.PacketMsg{ID: s.id, Authenticate: false})
		return true
	}
}

func (s *Session) writeClientBound(cb routing.ClientBound) bool {
	switch {
	case cb.Voice != nil:
		if err := s.conn.WriteUDPTunnel(wire.EncodeVoice(*cb.Voice)); err != nil {
			s.log.Debug("session: voice write failed", "err", err)
			return false
		}
	case cb.Text != nil:
		if err := s.conn.WriteTextMessage(textToProto(*cb.Text)); err != nil {
			s.log.Debug("session: text write failed", "err", err)
			return false
		}
	}
	return true
}

func versionMessage(v model.Version) *MumbleProto.Version {
	return &MumbleProto.Version{
		Version: proto.Uint32(uint32(v)),
		Release: proto.String("stammer"),
	}
}

func textFromProto(t *MumbleProto.TextMessage) model.Text {
	sessions := make([]model.SessionID, 0, len(t.GetSession()))
	for _, id := range t.GetSession() {
		sessions = append(sessions, model.SessionID(id))
	}
	rooms := make([]model.RoomID, 0, len(t.GetChannelId()))
	for _, id := range t.GetChannelId() {
		rooms = append(rooms, model.RoomID(id))
	}
	return model.Text{
		Body:     t.GetMessage(),
		Sessions: sessions,
		Rooms:    rooms,
	}
}

func textToProto(t model.Text) *MumbleProto.TextMessage {
	sessions := make([]uint32, 0, len(t.Sessions))
	for _, id := range t.Sessions {
		sessions = append(sessions, uint32(id))
	}
	rooms := make([]uint32, 0, len(t.Rooms))
	for _, id := range t.Rooms {
		rooms = append(rooms, uint32(id))
	}
	return &MumbleProto.TextMessage{
		Actor:     proto.Uint32(uint32(t.Actor)),
		Session:   sessions,
		ChannelId: rooms,
		Message:   proto.String(t.Body),
	}
}
