package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type wavInfo struct {
	sampleRate    int
	channels      int
	bitsPerSample int
	data          []byte
}

var errNotWAV = errors.New("not a RIFF/WAVE payload")

// parseWAV extracts the PCM data chunk and format parameters from a WAVE
// container. Only uncompressed 16-bit PCM is accepted; everything the
// backend synthesizes in wav mode is in that shape.
func parseWAV(raw []byte) (wavInfo, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return wavInfo{}, errNotWAV
	}

	var info wavInfo
	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(raw) {
			chunkLen = len(raw) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return wavInfo{}, fmt.Errorf("fmt chunk too short: %d bytes", chunkLen)
			}
			audioFormat := binary.LittleEndian.Uint16(raw[body : body+2])
			if audioFormat != 1 {
				return wavInfo{}, fmt.Errorf("unsupported wav encoding %d, want PCM", audioFormat)
			}
			info.channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			info.bitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
		case "data":
			info.data = raw[body : body+chunkLen]
		}

		// Chunks are word aligned.
		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	if info.sampleRate == 0 || info.channels == 0 {
		return wavInfo{}, errors.New("missing fmt chunk")
	}
	if info.data == nil {
		return wavInfo{}, errors.New("missing data chunk")
	}
	if info.bitsPerSample != 16 {
		return wavInfo{}, fmt.Errorf("unsupported bit depth %d, want 16", info.bitsPerSample)
	}
	return info, nil
}
