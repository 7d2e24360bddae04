package model

import "testing"

func TestPackVersionMatchesServerVersion(t *testing.T) {
	if PackVersion(1, 2, 4) != ServerVersion {
		t.Fatalf("PackVersion(1,2,4) = %d, want %d", PackVersion(1, 2, 4), ServerVersion)
	}
}

func TestVoiceCloneIsIndependent(t *testing.T) {
	v := Voice{Payload: []byte{1, 2, 3}}
	c := v.Clone()
	c.Payload[0] = 0xFF
	if v.Payload[0] == 0xFF {
		t.Fatal("clone should not share backing array with original")
	}
}

func TestTextCloneIsIndependent(t *testing.T) {
	tm := Text{Sessions: []SessionID{1, 2}, Rooms: []RoomID{0}}
	c := tm.Clone()
	c.Sessions[0] = 99
	if tm.Sessions[0] == 99 {
		t.Fatal("clone should not share backing array with original")
	}
}
