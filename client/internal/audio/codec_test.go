package audio

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"stutter/internal/model"
	"stutter/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEncoder struct {
	calls int
}

func (f *fakeEncoder) EncodeFloat32(pcm []float32, data []byte) (int, error) {
	f.calls++
	// Stand in for a compressed frame: a few deterministic bytes derived
	// from the call count so distinct frames are distinguishable.
	n := copy(data, []byte{byte(f.calls), 0xAA, 0xBB})
	return n, nil
}

type fakeDecoder struct{}

func (fakeDecoder) DecodeFloat32(data []byte, pcm []float32) (int, error) {
	for i := range pcm {
		pcm[i] = 0.5
	}
	return len(pcm) / channels, nil
}

// fakeConnection is safe for the concurrent use the codec actor's own
// goroutine requires in the Run-driven tests below.
type fakeConnection struct {
	mu   sync.Mutex
	sent []model.Voice
}

func (f *fakeConnection) SendVoice(v model.Voice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
}

func (f *fakeConnection) snapshot() []model.Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Voice(nil), f.sent...)
}

type fakeIO struct {
	mu        sync.Mutex
	delivered [][]float32
}

func (f *fakeIO) PlaybackInbound(pcm []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, append([]float32(nil), pcm...))
}

func (f *fakeIO) snapshot() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]float32(nil), f.delivered...)
}

// waitFor polls until cond returns true or fails the test after a timeout,
// since Outbound/Inbound only enqueue onto the actor's own goroutine now.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestHandleOutboundEncodesExactlyOneFramePerChunk(t *testing.T) {
	enc := &fakeEncoder{}
	conn := &fakeConnection{}
	c := NewCodec(enc, fakeDecoder{}, conn, &fakeIO{}, testLogger())

	chunk := make([]float32, frameSamplesInterleaved)
	c.handleOutbound(chunk)

	if enc.calls != 1 {
		t.Fatalf("expected exactly 1 encode call for one full frame, got %d", enc.calls)
	}
	sent := conn.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 voice message sent, got %d", len(sent))
	}
	if len(sent[0].Payload) > 1024 {
		t.Fatalf("payload exceeds 1024 bytes: %d", len(sent[0].Payload))
	}
}

func TestHandleOutboundBatchesAcrossSmallChunks(t *testing.T) {
	enc := &fakeEncoder{}
	conn := &fakeConnection{}
	c := NewCodec(enc, fakeDecoder{}, conn, &fakeIO{}, testLogger())

	half := make([]float32, frameSamplesInterleaved/2)
	c.handleOutbound(half)
	if enc.calls != 0 {
		t.Fatalf("expected no encode yet with a partial frame, got %d calls", enc.calls)
	}
	c.handleOutbound(half)
	if enc.calls != 1 {
		t.Fatalf("expected exactly 1 encode once the frame completes, got %d", enc.calls)
	}
}

func TestSeqNumIncrementsPerFrame(t *testing.T) {
	enc := &fakeEncoder{}
	conn := &fakeConnection{}
	c := NewCodec(enc, fakeDecoder{}, conn, &fakeIO{}, testLogger())

	chunk := make([]float32, frameSamplesInterleaved)
	c.handleOutbound(chunk)
	c.handleOutbound(chunk)

	sent := conn.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected 2 frames sent, got %d", len(sent))
	}
	if sent[0].SeqNum != 0 || sent[1].SeqNum != 1 {
		t.Fatalf("expected seq numbers 0,1, got %d,%d", sent[0].SeqNum, sent[1].SeqNum)
	}
}

func TestNotePauseSetsEndOfTransmissionOnNextFrame(t *testing.T) {
	enc := &fakeEncoder{}
	conn := &fakeConnection{}
	c := NewCodec(enc, fakeDecoder{}, conn, &fakeIO{}, testLogger())

	chunk := make([]float32, frameSamplesInterleaved)
	c.NotePause()
	c.handleOutbound(chunk)
	c.handleOutbound(chunk)

	sent := conn.snapshot()
	if !sent[0].EndOfTransmission {
		t.Fatal("expected the frame following NotePause to carry end_of_transmission")
	}
	if sent[1].EndOfTransmission {
		t.Fatal("expected only the first post-pause frame to carry end_of_transmission")
	}
}

func TestHandleInboundDecodesOpusAndDeliversToIO(t *testing.T) {
	io := &fakeIO{}
	c := NewCodec(&fakeEncoder{}, fakeDecoder{}, &fakeConnection{}, io, testLogger())

	v := model.Voice{Payload: []byte{1, 2, 3}}
	payload := wire.EncodeVoice(v)
	// Simulate the server's session-id prefix that clientbound frames carry.
	prefixed := append([]byte{payload[0]}, append(appendVarintHelper(42), payload[1:]...)...)

	c.handleInbound(prefixed)

	delivered := io.snapshot()
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 PlaybackInbound delivery, got %d", len(delivered))
	}
	if len(delivered[0]) != frameSamplesInterleaved {
		t.Fatalf("expected %d interleaved samples, got %d", frameSamplesInterleaved, len(delivered[0]))
	}
}

func TestHandleInboundDropsNonOpusSilently(t *testing.T) {
	io := &fakeIO{}
	c := NewCodec(&fakeEncoder{}, fakeDecoder{}, &fakeConnection{}, io, testLogger())

	c.handleInbound([]byte{0x00, 0, 0})
	if len(io.snapshot()) != 0 {
		t.Fatalf("expected non-Opus payload to be dropped, got %d deliveries", len(io.snapshot()))
	}
}

// TestOutboundAndInboundAreNonBlockingEnqueues exercises the actual actor
// loop: Outbound/Inbound must return immediately (they only enqueue), and
// the encode/decode work happens on Run's own goroutine.
func TestOutboundAndInboundAreNonBlockingEnqueues(t *testing.T) {
	enc := &fakeEncoder{}
	conn := &fakeConnection{}
	io := &fakeIO{}
	c := NewCodec(enc, fakeDecoder{}, conn, io, testLogger())

	done := make(chan struct{})
	runDone := make(chan struct{})
	go func() { c.Run(done); close(runDone) }()

	chunk := make([]float32, frameSamplesInterleaved)
	c.Outbound(chunk)

	v := model.Voice{Payload: []byte{1, 2, 3}}
	payload := wire.EncodeVoice(v)
	prefixed := append([]byte{payload[0]}, append(appendVarintHelper(42), payload[1:]...)...)
	c.Inbound(prefixed)

	waitFor(t, func() bool { return len(conn.snapshot()) == 1 })
	waitFor(t, func() bool { return len(io.snapshot()) == 1 })

	close(done)
	<-runDone
}

// TestOutboundDropsWhenQueueFull proves a stalled actor does not block the
// driver-thread caller: once the bounded queue is full, further enqueues
// are silently dropped rather than blocking.
func TestOutboundDropsWhenQueueFull(t *testing.T) {
	c := NewCodec(&fakeEncoder{}, fakeDecoder{}, &fakeConnection{}, &fakeIO{}, testLogger())

	chunk := make([]float32, frameSamplesInterleaved)
	for i := 0; i < codecQueueDepth+4; i++ {
		c.Outbound(chunk) // must never block even though nothing drains the queue
	}
}

// appendVarintHelper duplicates wire's one- and two-byte varint encodings
// for small session ids, avoiding an export from the wire package purely for
// this test's prefix construction.
func appendVarintHelper(v uint64) []byte {
	if v < 0x80 {
		return []byte{byte(v)}
	}
	return []byte{byte(v>>8) | 0x80, byte(v)}
}
