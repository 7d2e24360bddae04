// Package audio implements the client's audio-codec and audio-I/O actors.
package audio

import (
	"log/slog"
	"sync/atomic"

	"stutter/internal/model"
	"stutter/internal/ringbuffer"
	"stutter/internal/wire"
)

const (
	sampleRate = 48000
	channels   = 2
	// frameSamplesPerChannel is the fixed Opus frame width: 20ms at 48kHz.
	frameSamplesPerChannel = 960
	frameSamplesInterleaved = frameSamplesPerChannel * channels
	// captureRingCapacity holds one second of stereo-interleaved PCM.
	captureRingCapacity = sampleRate * channels
	maxOpusFrameBytes   = 1024
)

// opusEncoder is the subset of *opus.Encoder the codec actor uses, narrowed
// to an interface so tests can supply a fake without linking libopus.
type opusEncoder interface {
	EncodeFloat32(pcm []float32, data []byte) (int, error)
}

// opusDecoder is the subset of *opus.Decoder the codec actor uses.
type opusDecoder interface {
	DecodeFloat32(data []byte, pcm []float32) (int, error)
}

// Connection is the subset of the connection actor the codec actor sends
// encoded voice frames to.
type Connection interface {
	SendVoice(model.Voice)
}

// PlaybackSink is the subset of the audio-I/O actor the codec actor
// delivers decoded playback frames to.
type PlaybackSink interface {
	PlaybackInbound(pcm []float32)
}

// codecQueueDepth bounds the outbound/inbound queues the driver thread
// enqueues onto; a full queue means the codec actor is falling behind, and
// the driver thread drops rather than blocks.
const codecQueueDepth = 8

// Codec is the audio-codec actor: one Opus encoder, one Opus decoder, and a
// capture ring buffer that batches incoming PCM into fixed 960-sample
// frames for encoding. Outbound is called from the PortAudio driver's own
// callback thread and Inbound from the connection actor; neither may block
// its caller, so they only enqueue; Run, on the actor's own goroutine, does
// the ring push, the Opus encode/decode, and the connection/playback handoff.
type Codec struct {
	encoder opusEncoder
	decoder opusDecoder
	conn    Connection
	io      PlaybackSink
	log     *slog.Logger

	capture *ringbuffer.Ring
	seqNum  atomic.Uint32
	paused  atomic.Bool

	outboundQueue chan []float32
	inboundQueue  chan []byte
}

// NewCodec constructs a codec actor around an already-initialized Opus
// encoder/decoder pair.
func NewCodec(encoder opusEncoder, decoder opusDecoder, conn Connection, io PlaybackSink, log *slog.Logger) *Codec {
	return &Codec{
		encoder:       encoder,
		decoder:       decoder,
		conn:          conn,
		io:            io,
		log:           log,
		capture:       ringbuffer.New(captureRingCapacity),
		outboundQueue: make(chan []float32, codecQueueDepth),
		inboundQueue:  make(chan []byte, codecQueueDepth),
	}
}

// Outbound enqueues a chunk of captured PCM for the actor goroutine to push
// into the capture ring and encode. Best-effort, non-blocking: a full queue
// (the actor falling behind) drops the chunk rather than stalling the
// driver's callback thread.
func (c *Codec) Outbound(pcm []float32) {
	select {
	case c.outboundQueue <- append([]float32(nil), pcm...):
	default:
		c.log.Debug("codec: outbound queue full, dropping captured chunk")
	}
}

// NotePause marks that the capture stream has just paused; the next
// encoded frame (when capture resumes) carries end_of_transmission=true.
func (c *Codec) NotePause() {
	c.paused.Store(true)
}

// Inbound enqueues a clientbound UDPTunnel payload for the actor goroutine
// to decode. Best-effort, non-blocking: a full queue drops the packet rather
// than stalling the connection actor that delivers it.
func (c *Codec) Inbound(payload []byte) {
	select {
	case c.inboundQueue <- append([]byte(nil), payload...):
	default:
		c.log.Debug("codec: inbound queue full, dropping voice packet")
	}
}

// Run drives the codec actor until done is closed: it drains the outbound
// and inbound queues, doing the Opus encode/decode work off the driver
// thread entirely.
func (c *Codec) Run(done <-chan struct{}) {
	for {
		select {
		case pcm := <-c.outboundQueue:
			c.handleOutbound(pcm)
		case payload := <-c.inboundQueue:
			c.handleInbound(payload)
		case <-done:
			return
		}
	}
}

// handleOutbound pushes a captured chunk into the capture ring, then drains
// every complete 960-sample frame it can form, encoding and forwarding each
// to the connection actor.
func (c *Codec) handleOutbound(pcm []float32) {
	c.capture.Push(pcm)
	frame := make([]float32, frameSamplesInterleaved)
	for c.capture.Len() >= frameSamplesInterleaved {
		c.capture.Pop(frame)
		c.encodeAndSend(frame)
	}
}

func (c *Codec) encodeAndSend(frame []float32) {
	buf := make([]byte, maxOpusFrameBytes)
	n, err := c.encoder.EncodeFloat32(frame, buf)
	if err != nil {
		c.log.Debug("codec: opus encode failed", "err", err)
		return
	}
	eot := c.paused.Swap(false)
	v := model.Voice{
		Target:            0,
		SeqNum:            c.seqNum.Add(1) - 1,
		Payload:           buf[:n],
		EndOfTransmission: eot,
	}
	c.conn.SendVoice(v)
}

// handleInbound decodes a clientbound UDPTunnel payload. Non-Opus payloads
// are silently dropped, matching the single-codec routing contract.
func (c *Codec) handleInbound(payload []byte) {
	v, ok, err := wire.DecodeVoice(payload)
	if err != nil {
		c.log.Debug("codec: voice decode failed", "err", err)
		return
	}
	if !ok {
		return
	}
	pcm := make([]float32, frameSamplesInterleaved)
	n, err := c.decoder.DecodeFloat32(v.Payload, pcm)
	if err != nil {
		c.log.Debug("codec: opus decode failed", "err", err)
		return
	}
	c.io.PlaybackInbound(pcm[:n*channels])
}
