// Package speech adapts the external speech services (Whisper-style STT over
// HTTP, Wyoming-style TTS over a framed TCP protocol) to the conversation
// engine. This file contains WAV framing helpers: the TTS service emits raw
// PCM, which becomes playable audio once the canonical 44-byte RIFF header
// is prepended.
package speech

import (
	"encoding/binary"
)

// PCM format constants for the canonical header: mono, 16-bit little-endian.
const (
	wavHeaderSize   = 44
	numChannels     = 1
	bitsPerSample   = 16
	bytesPerSamp    = bitsPerSample / 8
	pcmFormatLinear = 1
)

// HasWAVHeader reports whether data starts with a RIFF/WAVE header.
func HasWAVHeader(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// WAVHeader builds the canonical 44-byte RIFF header for a mono 16-bit PCM
// payload of pcmLen bytes at the given sample rate.
func WAVHeader(pcmLen, sampleRate int) []byte {
	h := make([]byte, wavHeaderSize)
	byteRate := sampleRate * numChannels * bytesPerSamp

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+pcmLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], pcmFormatLinear)
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(numChannels*bytesPerSamp))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(pcmLen))
	return h
}

// EnsureWAV returns data unchanged when it already carries a WAV header,
// otherwise it treats data as raw PCM and prepends the canonical header.
func EnsureWAV(data []byte, sampleRate int) []byte {
	if HasWAVHeader(data) {
		return data
	}
	out := make([]byte, 0, wavHeaderSize+len(data))
	out = append(out, WAVHeader(len(data), sampleRate)...)
	return append(out, data...)
}

// SilenceWAV produces a playable silent WAV of the given duration. Used as
// the TTS fallback so synthesis failures never surface as errors.
func SilenceWAV(seconds float64, sampleRate int) []byte {
	if seconds < 0 {
		seconds = 0
	}
	samples := int(seconds * float64(sampleRate))
	pcm := make([]byte, samples*bytesPerSamp)
	return EnsureWAV(pcm, sampleRate)
}
