// Package routing holds the routing table and the control/router actors
// that own and consume it. The table is a plain value type; actors provide
// the concurrency-safe access pattern described in the design notes: the
// control actor holds the one authoritative copy and clones a full snapshot
// to the routing actor on every change.
package routing

import (
	"fmt"

	"stammer/internal/model"
)

// Sink is the per-session client-bound delivery handle. It is the send end
// of a session actor's inbound queue; closing the channel (by the session
// actor exiting) marks every snapshot's reference to it as dead on next
// send, which the routing actor treats as a silently-skipped delivery.
type Sink chan<- ClientBound

// ClientBound is anything the routing/control actors push onto a session's
// sink for the session actor to write to its socket.
type ClientBound struct {
	Voice       *model.Voice
	Text        *model.Text
}

// SessionRecord is one authenticated session's routing-relevant state.
type SessionRecord struct {
	Room    model.RoomID
	Version model.Version
	Sink    Sink
}

// Table is the routing-table data structure: a session map and a room
// membership map. Invariants (checked in tests, not on the hot path):
//   - every session id in a room's member set is a key in Sessions;
//   - a session's Room field names a room that contains it;
//   - no session appears in more than one room.
type Table struct {
	Sessions map[model.SessionID]SessionRecord
	Rooms    map[model.RoomID]map[model.SessionID]struct{}
}

// NewTable returns an empty routing table.
func NewTable() Table {
	return Table{
		Sessions: make(map[model.SessionID]SessionRecord),
		Rooms:    make(map[model.RoomID]map[model.SessionID]struct{}),
	}
}

// Clone returns a deep copy suitable for handing to the routing actor as an
// immutable snapshot.
func (t Table) Clone() Table {
	out := NewTable()
	for id, rec := range t.Sessions {
		out.Sessions[id] = rec
	}
	for room, members := range t.Rooms {
		clone := make(map[model.SessionID]struct{}, len(members))
		for id := range members {
			clone[id] = struct{}{}
		}
		out.Rooms[room] = clone
	}
	return out
}

// Holds reports whether id is present in the authoritative table (i.e.
// already authenticated).
func (t Table) Holds(id model.SessionID) bool {
	_, ok := t.Sessions[id]
	return ok
}

// Enroll adds id to the table as a member of room, with the given version
// and sink. Used only when the caller already knows id is not present.
func (t Table) Enroll(id model.SessionID, room model.RoomID, version model.Version, sink Sink) {
	t.Sessions[id] = SessionRecord{Room: room, Version: version, Sink: sink}
	members, ok := t.Rooms[room]
	if !ok {
		members = make(map[model.SessionID]struct{})
		t.Rooms[room] = members
	}
	members[id] = struct{}{}
}

// Expel removes id from the table and its room's member set. Reports
// whether id was present.
func (t Table) Expel(id model.SessionID) bool {
	rec, ok := t.Sessions[id]
	if !ok {
		return false
	}
	delete(t.Sessions, id)
	if members, ok := t.Rooms[rec.Room]; ok {
		delete(members, id)
	}
	return true
}

// RoomMembers returns the member set of room, excluding self if self is a
// member of it and excludeSelf is true.
func (t Table) RoomMembers(room model.RoomID, self model.SessionID, excludeSelf bool) []model.SessionID {
	members := t.Rooms[room]
	out := make([]model.SessionID, 0, len(members))
	for id := range members {
		if excludeSelf && id == self {
			continue
		}
		out = append(out, id)
	}
	return out
}

// CheckInvariants validates the three routing-table invariants from the
// data model. It is exported for use by tests; production code never calls
// it on the hot path.
func (t Table) CheckInvariants() error {
	for room, members := range t.Rooms {
		for id := range members {
			rec, ok := t.Sessions[id]
			if !ok {
				return invariantError("session %d in room %d has no session record", id, room)
			}
			if rec.Room != room {
				return invariantError("session %d in room %d but record names room %d", id, room, rec.Room)
			}
		}
	}
	for id, rec := range t.Sessions {
		members, ok := t.Rooms[rec.Room]
		if !ok {
			return invariantError("session %d names room %d which does not exist", id, rec.Room)
		}
		if _, ok := members[id]; !ok {
			return invariantError("session %d names room %d but is not in its member set", id, rec.Room)
		}
	}
	seen := make(map[model.SessionID]model.RoomID)
	for room, members := range t.Rooms {
		for id := range members {
			if prev, ok := seen[id]; ok {
				return invariantError("session %d appears in both room %d and room %d", id, prev, room)
			}
			seen[id] = room
		}
	}
	return nil
}

func invariantError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
