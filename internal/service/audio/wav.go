// Package audio wraps raw linear PCM produced by the speech model into a
// playable RIFF/WAVE container and back.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of a canonical PCM WAV header (RIFF + fmt + data).
const HeaderSize = 44

const (
	fmtChunkSize = 16
	formatPCM    = 1
)

// Errors returned by the encoder and decoder.
var (
	ErrEmptyPCM      = errors.New("audio: empty PCM buffer")
	ErrMisalignedPCM = errors.New("audio: PCM length is not a multiple of the block size")
	ErrInvalidFormat = errors.New("audio: invalid format")
	ErrNotWAV        = errors.New("audio: not a RIFF/WAVE container")
	ErrTruncated     = errors.New("audio: truncated container")
	ErrNoDataChunk   = errors.New("audio: no data chunk")
)

// Format describes linear PCM samples.
type Format struct {
	Channels      int
	SampleRateHz  int
	BitsPerSample int
}

// DefaultFormat is what the speech model emits: mono, 24 kHz, 16-bit.
var DefaultFormat = Format{Channels: 1, SampleRateHz: 24000, BitsPerSample: 16}

// BlockAlign is the number of bytes per sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRateHz * f.BlockAlign()
}

// Validate checks the format can be described by a PCM fmt chunk.
func (f Format) Validate() error {
	if f.Channels <= 0 || f.Channels > 0xFFFF {
		return fmt.Errorf("%w: channels=%d", ErrInvalidFormat, f.Channels)
	}
	if f.SampleRateHz <= 0 {
		return fmt.Errorf("%w: sampleRateHz=%d", ErrInvalidFormat, f.SampleRateHz)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("%w: bitsPerSample=%d", ErrInvalidFormat, f.BitsPerSample)
	}
	return nil
}

// EncodeWAV writes a 44-byte little-endian RIFF/WAVE header followed by pcm
// verbatim. The result is always HeaderSize+len(pcm) bytes long.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyPCM
	}
	if len(pcm)%f.BlockAlign() != 0 {
		return nil, fmt.Errorf("%w: %d bytes, block %d", ErrMisalignedPCM, len(pcm), f.BlockAlign())
	}

	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	// RIFF chunk: size covers everything after the 8-byte chunk header.
	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(HeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")

	// fmt subchunk
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], fmtChunkSize)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRateHz))
	le.PutUint32(out[28:32], uint32(f.ByteRate()))
	le.PutUint16(out[32:34], uint16(f.BlockAlign()))
	le.PutUint16(out[34:36], uint16(f.BitsPerSample))

	// data subchunk
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)

	return out, nil
}

// DecodeWAV parses a RIFF/WAVE container and returns its PCM format and the
// body of its data chunk. Unknown chunks (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) (Format, []byte, error) {
	var f Format
	if len(data) < 12 {
		return f, nil, ErrNotWAV
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return f, nil, ErrNotWAV
	}

	le := binary.LittleEndian
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(le.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			return f, nil, fmt.Errorf("%w: chunk %q wants %d bytes", ErrTruncated, id, size)
		}

		switch id {
		case "fmt ":
			if size < fmtChunkSize {
				return f, nil, fmt.Errorf("%w: fmt chunk of %d bytes", ErrTruncated, size)
			}
			if tag := le.Uint16(data[body : body+2]); tag != formatPCM {
				return f, nil, fmt.Errorf("%w: format tag %d is not PCM", ErrInvalidFormat, tag)
			}
			f.Channels = int(le.Uint16(data[body+2 : body+4]))
			f.SampleRateHz = int(le.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(le.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return f, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidFormat)
			}
			return f, data[body : body+size], nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}

	return f, nil, ErrNoDataChunk
}

// DurationMs returns the playback length of pcm bytes in the given format, in
// milliseconds.
func (f Format) DurationMs(pcmBytes int) int64 {
	if f.ByteRate() == 0 {
		return 0
	}
	return int64(pcmBytes) * 1000 / int64(f.ByteRate())
}
