package wire

import (
	"fmt"
	"math"

	"stutter/internal/model"
)

// audioCodecOpus is the Mumble UDP-tunnel audio codec tag for Opus payloads.
const audioCodecOpus = 4

// EncodeVoice renders a serverbound voice packet. Unlike the clientbound
// form the server emits, serverbound Opus frames carry no session id: the
// server stamps the originator itself.
func EncodeVoice(v model.Voice) []byte {
	header := byte(audioCodecOpus<<5) | byte(v.Target&0x1f)
	out := []byte{header}
	out = appendVarint(out, uint64(v.SeqNum))

	lengthField := uint64(len(v.Payload))
	if v.EndOfTransmission {
		lengthField |= 1 << 13
	}
	out = appendVarint(out, lengthField)
	out = append(out, v.Payload...)

	if v.HasPosition {
		out = appendBEFloat32(out, v.PositionX)
		out = appendBEFloat32(out, v.PositionY)
		out = appendBEFloat32(out, v.PositionZ)
	}
	return out
}

// DecodeVoice parses a clientbound UDPTunnel payload, which is prefixed
// with the originating session id so the receiving client can attribute it.
func DecodeVoice(payload []byte) (model.Voice, bool, error) {
	if len(payload) == 0 {
		return model.Voice{}, false, fmt.Errorf("wire: empty voice payload")
	}
	header := payload[0]
	codec := header >> 5
	target := uint32(header & 0x1f)
	if codec != audioCodecOpus {
		return model.Voice{}, false, nil
	}
	rest := payload[1:]

	sessionID, n, err := readVarint(rest)
	if err != nil {
		return model.Voice{}, false, fmt.Errorf("wire: decode session id: %w", err)
	}
	rest = rest[n:]

	seq, n, err := readVarint(rest)
	if err != nil {
		return model.Voice{}, false, fmt.Errorf("wire: decode seq: %w", err)
	}
	rest = rest[n:]

	opusHeader, n, err := readVarint(rest)
	if err != nil {
		return model.Voice{}, false, fmt.Errorf("wire: decode opus header: %w", err)
	}
	rest = rest[n:]

	length := int(opusHeader &^ (1 << 13))
	eot := opusHeader&(1<<13) != 0
	if length > len(rest) {
		return model.Voice{}, false, fmt.Errorf("wire: opus length %d exceeds payload", length)
	}
	opusPayload := append([]byte(nil), rest[:length]...)
	rest = rest[length:]

	v := model.Voice{
		SessionID:         uint32(sessionID),
		Target:            target,
		SeqNum:            uint32(seq),
		Payload:           opusPayload,
		EndOfTransmission: eot,
	}
	if len(rest) >= 12 {
		v.HasPosition = true
		v.PositionX = math.Float32frombits(beUint32(rest[0:4]))
		v.PositionY = math.Float32frombits(beUint32(rest[4:8]))
		v.PositionZ = math.Float32frombits(beUint32(rest[8:12]))
	}
	return v, true, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func appendBEFloat32(dst []byte, f float32) []byte {
	bits := math.Float32bits(f)
	return append(dst, byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits))
}

// readVarint decodes the Mumble variable-length integer encoding, in which
// the high bits of the first byte select a fixed total length (1, 2, 3, 4,
// 5 or 9 bytes); unlike protobuf varints there are no continuation bits. It
// returns the value and the number of bytes consumed.
func readVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("wire: truncated varint")
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint64(first), 1, nil
	case first&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("wire: truncated varint")
		}
		return uint64(first&0x3F)<<8 | uint64(b[1]), 2, nil
	case first&0xE0 == 0xC0:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("wire: truncated varint")
		}
		return uint64(first&0x1F)<<16 | uint64(b[1])<<8 | uint64(b[2]), 3, nil
	case first&0xF0 == 0xE0:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("wire: truncated varint")
		}
		return uint64(first&0x0F)<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3]), 4, nil
	case first&0xFC == 0xF0:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("wire: truncated varint")
		}
		v := uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
		return v, 5, nil
	case first&0xFC == 0xF4:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("wire: truncated varint")
		}
		var v uint64
		for i := 0; i < 8; i++ {
			v = v<<8 | uint64(b[1+i])
		}
		return v, 9, nil
	default:
		return 0, 0, fmt.Errorf("wire: invalid varint lead byte 0x%02x", first)
	}
}

// appendVarint encodes v using the same scheme readVarint decodes.
func appendVarint(dst []byte, v uint64) []byte {
	switch {
	case v < 0x80:
		return append(dst, byte(v))
	case v < 0x4000:
		return append(dst, byte(v>>8)|0x80, byte(v))
	case v < 0x200000:
		return append(dst, byte(v>>16)|0xC0, byte(v>>8), byte(v))
	case v < 0x10000000:
		return append(dst, byte(v>>24)|0xE0, byte(v>>16), byte(v>>8), byte(v))
	case v <= 0xFFFFFFFF:
		return append(dst, 0xF0, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		dst = append(dst, 0xF4)
		for i := 7; i >= 0; i-- {
			dst = append(dst, byte(v>>(8*uint(i))))
		}
		return dst
	}
}
