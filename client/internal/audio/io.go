package audio

import (
	"log/slog"
	"sync/atomic"

	"stutter/internal/ringbuffer"
)

// paStream is the subset of *portaudio.Stream the audio-I/O actor needs,
// narrowed to an interface so tests can run without an audio device.
type paStream interface {
	Start() error
	Stop() error
	Close() error
}

// CaptureSink is the subset of the audio-codec actor the I/O actor pushes
// captured PCM to.
type CaptureSink interface {
	Outbound(pcm []float32)
	NotePause()
}

// Command is the sum type the I/O actor's control loop accepts.
type Command int

const (
	RecordingPlay Command = iota
	RecordingPause
	PlaybackPlay
	PlaybackPause
)

// IO is the audio-I/O actor: it owns the input/output device streams and
// the output playback ring buffer. The input and output callbacks below
// run on driver-owned OS threads outside this actor's cooperative loop;
// they communicate with it only through the lock-free ring buffer and the
// non-blocking Codec.Outbound and Codec.NotePause calls.
type IO struct {
	input  paStream
	output paStream
	codec  CaptureSink
	log    *slog.Logger

	playback *ringbuffer.Ring

	muted   atomic.Bool
	wasMute atomic.Bool // tracks the previous callback's muted state, to detect a pause transition

	commands chan Command
}

// New constructs an I/O actor around already-opened input/output streams.
// Pass nil for either stream in contexts (such as tests) that only drive
// one direction.
func New(input, output paStream, codec CaptureSink, log *slog.Logger) *IO {
	return &IO{
		input:    input,
		output:   output,
		codec:    codec,
		log:      log,
		playback: ringbuffer.New(sampleRate * channels),
		commands: make(chan Command, 8),
	}
}

// InputCallback is invoked by the driver on its own thread with newly
// captured PCM. It must never block.
func (io *IO) InputCallback(in []float32) {
	if io.muted.Load() {
		if !io.wasMute.Swap(true) {
			io.codec.NotePause()
		}
		return
	}
	io.wasMute.Store(false)
	io.codec.Outbound(append([]float32(nil), in...))
}

// OutputCallback is invoked by the driver on its own thread to fill out
// with the next block of playback audio. Underflow is filled with
// silence.
func (io *IO) OutputCallback(out []float32) {
	n := io.playback.Pop(out)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// PlaybackInbound pushes decoded PCM into the output ring buffer; overflow
// silently drops the tail samples.
func (io *IO) PlaybackInbound(pcm []float32) {
	io.playback.Push(pcm)
}

// SetStreams wires the opened input/output device streams in after
// construction, since they are typically opened with callbacks that close
// over this IO and so cannot exist before it does.
func (io *IO) SetStreams(input, output paStream) {
	io.input = input
	io.output = output
}

// SetCodec wires the codec actor in after construction, breaking the
// IO/Codec initialization cycle (the codec actor needs an IO to deliver
// decoded playback frames to).
func (io *IO) SetCodec(codec CaptureSink) {
	io.codec = codec
}

// SetMuted toggles local capture muting without tearing down the input
// stream: a cheap boolean the input callback checks, distinct from
// RecordingPause which stops the stream itself.
func (io *IO) SetMuted(muted bool) {
	io.muted.Store(muted)
}

// Send queues a control command. Best-effort, non-blocking.
func (io *IO) Send(cmd Command) {
	select {
	case io.commands <- cmd:
	default:
	}
}

// Run drives the actor's cooperative control loop until done is closed.
func (io *IO) Run(done <-chan struct{}) {
	for {
		select {
		case cmd := <-io.commands:
			io.handle(cmd)
		case <-done:
			return
		}
	}
}

func (io *IO) handle(cmd Command) {
	var err error
	switch cmd {
	case RecordingPlay:
		if io.input != nil {
			err = io.input.Start()
		}
	case RecordingPause:
		if io.input != nil {
			err = io.input.Stop()
		}
		io.codec.NotePause()
	case PlaybackPlay:
		if io.output != nil {
			err = io.output.Start()
		}
	case PlaybackPause:
		if io.output != nil {
			err = io.output.Stop()
		}
	}
	if err != nil {
		io.log.Debug("audio: stream command failed", "cmd", cmd, "err", err)
	}
}

// Close stops and closes both streams.
func (io *IO) Close() {
	if io.input != nil {
		_ = io.input.Stop()
		_ = io.input.Close()
	}
	if io.output != nil {
		_ = io.output.Stop()
		_ = io.output.Close()
	}
}
