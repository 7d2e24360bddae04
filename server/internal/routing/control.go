package routing

import (
	"log/slog"

	"stammer/internal/model"
)

// unauthSession is an unauthenticated-session map entry: a session that has
// finished the version handshake but not yet presented Authenticate.
type unauthSession struct {
	version model.Version
	sink    Sink
}

// AddSession registers a freshly handshaken, not-yet-authenticated session.
type AddSession struct {
	ID      model.SessionID
	Version model.Version
	Sink    Sink
}

// PacketMsg forwards a non-voice, non-text control packet from a session to
// the control actor. Authenticate is true when the packet is an
// Authenticate request; any other packet kind is a protocol violation
// unless the session is already authenticated (in which case it is a
// harmless no-op: richer control-plane packets are non-goals).
type PacketMsg struct {
	ID           model.SessionID
	Authenticate bool
}

// RemoveSession evicts a session on disconnect, timeout, or shutdown.
type RemoveSession struct {
	ID model.SessionID
}

// inboxMsg is the sum type carried on Control's single inbox channel. A
// single channel (rather than one per message kind) preserves the sending
// order of any one session's own messages: a session always sends
// AddSession, then zero or more Packet/voice/text forwards, then at most one
// RemoveSession, strictly in that order on its own goroutine, and a single
// FIFO channel is what makes Run observe them in that same order. Separate
// channels would let Run's select pick among simultaneously-ready channels
// arbitrarily, reordering a session's own AddSession after its first Packet.
type inboxMsg struct {
	addSession    *AddSession
	packet        *PacketMsg
	removeSession *RemoveSession
}

// Control is the control actor: it owns the authoritative routing table and
// the unauthenticated-session map, and publishes table snapshots to the
// routing actor on every routing-affecting change.
//
// Shutdown is a dedicated channel rather than an inbox message so that
// closing it can never fail or block regardless of inbox occupancy, per the
// acceptor's shutdown contract.
type Control struct {
	inbox chan inboxMsg
	stop  chan struct{}

	toRouter chan<- RouterMessage
	log      *slog.Logger

	table  Table
	unauth map[model.SessionID]unauthSession
}

// NewControl creates a control actor that will publish snapshots onto
// toRouter. Call Run to drive it, and Stop to begin graceful shutdown.
func NewControl(toRouter chan<- RouterMessage, log *slog.Logger) *Control {
	return &Control{
		inbox:    make(chan inboxMsg, 192),
		stop:     make(chan struct{}),
		toRouter: toRouter,
		log:      log,
		table:    NewTable(),
		unauth:   make(map[model.SessionID]unauthSession),
	}
}

// SendAddSession is a best-effort, non-blocking enrollment request.
func (c *Control) SendAddSession(a AddSession) {
	select {
	case c.inbox <- inboxMsg{addSession: &a}:
	default:
	}
}

// SendPacket is a best-effort, non-blocking packet forward.
func (c *Control) SendPacket(p PacketMsg) {
	select {
	case c.inbox <- inboxMsg{packet: &p}:
	default:
	}
}

// SendRemoveSession is a best-effort, non-blocking eviction request.
func (c *Control) SendRemoveSession(r RemoveSession) {
	select {
	case c.inbox <- inboxMsg{removeSession: &r}:
	default:
	}
}

// Stop begins graceful shutdown. Safe to call exactly once; idempotent
// beyond that is not guaranteed (matches the acceptor's single-shot
// contract).
func (c *Control) Stop() {
	close(c.stop)
}

// Run drives the control actor until Stop is called, then drains any
// already-buffered messages and forwards Shutdown to the routing actor.
func (c *Control) Run() {
	for {
		select {
		case m := <-c.inbox:
			c.handle(m)
		case <-c.stop:
			c.drain()
			c.toRouter <- RouterMessage{Shutdown: true}
			return
		}
	}
}

func (c *Control) drain() {
	for {
		select {
		case m := <-c.inbox:
			c.handle(m)
		default:
			return
		}
	}
}

func (c *Control) handle(m inboxMsg) {
	switch {
	case m.addSession != nil:
		c.handleAddSession(*m.addSession)
	case m.packet != nil:
		c.handlePacket(*m.packet)
	case m.removeSession != nil:
		c.handleRemoveSession(*m.removeSession)
	}
}

func (c *Control) handleAddSession(a AddSession) {
	c.unauth[a.ID] = unauthSession{version: a.Version, sink: a.Sink}
}

func (c *Control) handlePacket(p PacketMsg) {
	if c.table.Holds(p.ID) {
		// Already authenticated; idempotent re-Authenticate avoids a
		// double-enroll race and is silently accepted.
		return
	}
	u, ok := c.unauth[p.ID]
	if !ok {
		c.log.Warn("control: packet from unknown session", "session_id", p.ID)
		return
	}
	if !p.Authenticate {
		c.log.Warn("control: unauthenticated session sent non-Authenticate packet", "session_id", p.ID)
		return
	}
	delete(c.unauth, p.ID)
	c.table.Enroll(p.ID, model.RootRoom, u.version, u.sink)
	c.publish()
}

func (c *Control) handleRemoveSession(r RemoveSession) {
	if _, ok := c.unauth[r.ID]; ok {
		delete(c.unauth, r.ID)
		return
	}
	if c.table.Expel(r.ID) {
		c.publish()
		return
	}
	c.log.Warn("control: remove of unknown session", "session_id", r.ID)
}

func (c *Control) publish() {
	c.toRouter <- RouterMessage{Update: &UpdateMsg{Snapshot: c.table.Clone()}}
}
