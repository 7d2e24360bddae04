package audio

import "github.com/gordonklaus/portaudio"

// OpenInputStream opens the default input device at the fixed 48kHz stereo,
// 960-frames-per-callback configuration this implementation requires, and
// wires its callback to push captured PCM into io.
func OpenInputStream(io *IO) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenDefaultStream(channels, 0, sampleRate, frameSamplesPerChannel, func(in []float32) {
		io.InputCallback(in)
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// OpenOutputStream opens the default output device at the same fixed
// configuration, wiring its callback to drain io's playback ring buffer.
func OpenOutputStream(io *IO) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenDefaultStream(0, channels, sampleRate, frameSamplesPerChannel, func(out []float32) {
		io.OutputCallback(out)
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
