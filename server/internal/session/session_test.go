package session

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"layeh.com/gumble/gumble/MumbleProto"

	"stammer/internal/model"
	"stammer/internal/routing"
	"stammer/internal/wire"
)

type fakeControl struct {
	mu        sync.Mutex
	added     []routing.AddSession
	packets   []routing.PacketMsg
	removed   []routing.RemoveSession
}

func (f *fakeControl) SendAddSession(a routing.AddSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
}

func (f *fakeControl) SendPacket(p routing.PacketMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, p)
}

func (f *fakeControl) SendRemoveSession(r routing.RemoveSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, r)
}

func (f *fakeControl) snapshot() ([]routing.AddSession, []routing.PacketMsg, []routing.RemoveSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]routing.AddSession(nil), f.added...),
		append([]routing.PacketMsg(nil), f.packets...),
		append([]routing.RemoveSession(nil), f.removed...)
}

type fakeRouter struct {
	mu    sync.Mutex
	voice []routing.VoiceMsg
	text  []routing.TextMsg
}

func (f *fakeRouter) SendVoice(v routing.VoiceMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = append(f.voice, v)
}

func (f *fakeRouter) SendText(m routing.TextMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = append(f.text, m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession wires a Session to one end of an in-memory pipe, returning
// the other end (wrapped for framed I/O) for the test to drive as a client.
func newTestSession(t *testing.T, timeout time.Duration) (*Session, *wire.Conn, *fakeControl, *fakeRouter) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	control := &fakeControl{}
	router := &fakeRouter{}
	s := New(1, wire.New(serverConn), control, router, timeout, testLogger())
	return s, wire.New(clientConn), control, router
}

func clientHandshake(t *testing.T, client *wire.Conn) {
	t.Helper()
	pkt, err := client.ReadPacket()
	if err != nil {
		t.Fatalf("reading server version: %v", err)
	}
	if pkt.Kind != wire.KindVersion {
		t.Fatalf("expected Version packet, got %v", pkt.Kind)
	}
	if err := client.WriteVersion(&MumbleProto.Version{Version: proto.Uint32(uint32(model.ServerVersion))}); err != nil {
		t.Fatalf("writing client version: %v", err)
	}
}

func TestSessionHandshakeThenAddSession(t *testing.T) {
	s, client, control, _ := newTestSession(t, time.Second)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	clientHandshake(t, client)

	if err := client.WriteAuthenticate(&MumbleProto.Authenticate{}); err != nil {
		t.Fatalf("writing authenticate: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		added, packets, _ := control.snapshot()
		if len(added) == 1 && len(packets) == 1 {
			if added[0].ID != 1 {
				t.Fatalf("expected AddSession for id 1, got %+v", added[0])
			}
			if !packets[0].Authenticate {
				t.Fatalf("expected an Authenticate packet forward, got %+v", packets[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for AddSession+Packet, got added=%v packets=%v", added, packets)
		case <-time.After(10 * time.Millisecond):
		}
	}

	client.Close()
	<-done
}

func TestSessionEchoesPing(t *testing.T) {
	s, client, _, _ := newTestSession(t, time.Second)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	clientHandshake(t, client)

	if err := client.WritePing(&MumbleProto.Ping{Timestamp: proto.Uint64(42)}); err != nil {
		t.Fatalf("writing ping: %v", err)
	}
	pkt, err := client.ReadPacket()
	if err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if pkt.Kind != wire.KindPing || pkt.Ping.GetTimestamp() != 42 {
		t.Fatalf("expected echoed Ping{Timestamp:42}, got %+v", pkt)
	}

	client.Close()
	<-done
}

func TestSessionForwardsVoiceToRouter(t *testing.T) {
	s, client, _, router := newTestSession(t, time.Second)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	clientHandshake(t, client)

	voice := model.Voice{Target: 0, SeqNum: 3, Payload: []byte{9, 9, 9}}
	if err := client.WriteUDPTunnel(wire.EncodeVoice(voice)); err != nil {
		t.Fatalf("writing voice: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		router.mu.Lock()
		n := len(router.voice)
		router.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for voice forward")
		case <-time.After(10 * time.Millisecond):
		}
	}

	client.Close()
	<-done
}

func TestSessionTerminatesOnKeepaliveTimeout(t *testing.T) {
	s, client, control, _ := newTestSession(t, 40*time.Millisecond)
	done := make(chan struct{})
	go func() { s.Run(); close(done) }()

	clientHandshake(t, client)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected session to terminate on keepalive timeout")
	}

	_, _, removed := control.snapshot()
	if len(removed) != 1 || removed[0].ID != 1 {
		t.Fatalf("expected RemoveSession for id 1, got %+v", removed)
	}
}
