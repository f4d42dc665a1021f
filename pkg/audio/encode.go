package audio

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Opus only accepts 8/12/16/24/48 kHz input; synthesis output is
// resampled to 24 kHz mono before encoding.
const (
	opusEncodeRate    = 24000
	opusEncodeFrameMs = 20
	// opusEncodeFrameSize is samples per 20 ms mono frame.
	opusEncodeFrameSize = opusEncodeRate * opusEncodeFrameMs / 1000 // 480
)

// EncodeWAV wraps little-endian int16 PCM in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const headerLen = 44
	dataLen := len(pcm)
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	out := make([]byte, headerLen+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	copy(out[headerLen:], pcm)
	return out
}

// EncodeOpus encodes mono int16 PCM as a sequence of Opus packets, each
// preceded by a big-endian uint16 length. The input is resampled to
// 24 kHz and the tail is zero-padded to a whole 20 ms frame.
func EncodeOpus(pcm []byte, sampleRate int) ([]byte, error) {
	enc, err := gopus.NewEncoder(opusEncodeRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}

	pcm = ResampleMono16(pcm, sampleRate, opusEncodeRate)
	samples := bytesToInt16s(pcm)
	if rem := len(samples) % opusEncodeFrameSize; rem != 0 {
		samples = append(samples, make([]int16, opusEncodeFrameSize-rem)...)
	}

	var out []byte
	for off := 0; off < len(samples); off += opusEncodeFrameSize {
		packet, err := enc.Encode(samples[off:off+opusEncodeFrameSize], opusEncodeFrameSize, 4000)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		var prefix [2]byte
		binary.BigEndian.PutUint16(prefix[:], uint16(len(packet)))
		out = append(out, prefix[:]...)
		out = append(out, packet...)
	}
	return out, nil
}

// bytesToInt16s reinterprets little-endian PCM bytes as int16 samples.
func bytesToInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
