package routing

import (
	"log/slog"

	"stammer/internal/model"
)

// UpdateMsg replaces the routing actor's held snapshot.
type UpdateMsg struct {
	Snapshot Table
}

// RouterMessage is the sum type carried on the control-to-router channel:
// only Control ever sends these, and it sends Shutdown last, so ordering
// with prior Update messages is guaranteed by the single producer.
type RouterMessage struct {
	Update   *UpdateMsg
	Shutdown bool
}

// VoiceMsg is a voice packet forwarded directly from a session actor to the
// routing actor.
type VoiceMsg struct {
	SenderID model.SessionID
	Packet   model.Voice
}

// TextMsg is a text message forwarded directly from a session actor to the
// routing actor.
type TextMsg struct {
	SenderID model.SessionID
	Message  model.Text
}

// Router is the routing actor: it owns the most recent routing-table
// snapshot and fans out voice/text packets to recipients looked up in it.
type Router struct {
	voice   chan VoiceMsg
	text    chan TextMsg
	control chan RouterMessage
	log     *slog.Logger

	snapshot Table
}

// NewRouter creates a routing actor with an empty initial snapshot.
func NewRouter(log *slog.Logger) *Router {
	return &Router{
		voice:    make(chan VoiceMsg, 256),
		text:     make(chan TextMsg, 256),
		control:  make(chan RouterMessage, 8),
		log:      log,
		snapshot: NewTable(),
	}
}

// ControlInbox returns the channel the control actor publishes Update and
// Shutdown messages to. It is the only writer.
func (r *Router) ControlInbox() chan<- RouterMessage { return r.control }

// SendVoice is a best-effort, non-blocking voice forward from a session.
func (r *Router) SendVoice(m VoiceMsg) {
	select {
	case r.voice <- m:
	default:
	}
}

// SendText is a best-effort, non-blocking text forward from a session.
func (r *Router) SendText(m TextMsg) {
	select {
	case r.text <- m:
	default:
	}
}

// Run drives the routing actor until a Shutdown message arrives on the
// control channel.
func (r *Router) Run() {
	for {
		// Apply any already-queued control message first, so a voice or
		// text message is never fanned out against a snapshot older than
		// one that is already waiting.
		select {
		case c := <-r.control:
			if c.Shutdown {
				return
			}
			if c.Update != nil {
				r.snapshot = c.Update.Snapshot
			}
			continue
		default:
		}
		select {
		case v := <-r.voice:
			r.handleVoice(v)
		case t := <-r.text:
			r.handleText(t)
		case c := <-r.control:
			if c.Shutdown {
				return
			}
			if c.Update != nil {
				r.snapshot = c.Update.Snapshot
			}
		}
	}
}

func (r *Router) handleVoice(v VoiceMsg) {
	sender, ok := r.snapshot.Sessions[v.SenderID]
	if !ok {
		return // race with expulsion; drop silently
	}
	recipients := r.snapshot.RoomMembers(sender.Room, v.SenderID, true)
	out := v.Packet
	out.SessionID = v.SenderID
	for _, id := range recipients {
		rec, ok := r.snapshot.Sessions[id]
		if !ok {
			continue
		}
		r.deliver(rec.Sink, ClientBound{Voice: cloneVoice(out)})
	}
}

func (r *Router) handleText(t TextMsg) {
	msg := t.Message
	msg.Actor = t.SenderID

	recipients := make(map[model.SessionID]struct{})
	for _, id := range msg.Sessions {
		if _, ok := r.snapshot.Sessions[id]; ok {
			recipients[id] = struct{}{}
		}
	}
	for _, room := range msg.Rooms {
		for _, id := range r.snapshot.RoomMembers(room, t.SenderID, true) {
			recipients[id] = struct{}{}
		}
	}
	for id := range recipients {
		rec, ok := r.snapshot.Sessions[id]
		if !ok {
			continue
		}
		r.deliver(rec.Sink, ClientBound{Text: cloneText(msg)})
	}
}

// deliver is a best-effort, non-blocking send to a recipient's sink; a
// closed or full sink (recipient tearing down) is silently skipped.
func (r *Router) deliver(sink Sink, cb ClientBound) {
	defer func() {
		// The sink's session actor may have exited and closed the
		// channel concurrently with this fan-out; a send on a closed
		// channel panics, and this race is an expected, silently
		// ignored shutdown race per the error-handling design.
		_ = recover()
	}()
	select {
	case sink <- cb:
	default:
	}
}

func cloneVoice(v model.Voice) *model.Voice {
	c := v.Clone()
	return &c
}

func cloneText(t model.Text) *model.Text {
	c := t.Clone()
	return &c
}
