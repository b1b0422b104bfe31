package audio

import (
	"encoding/binary"
	"errors"
)

// WAVHeaderSize is the size of the canonical 44-byte RIFF/WAV header written
// by [EncodeWAV].
const WAVHeaderSize = 44

// WAVInfo describes the PCM payload found inside a RIFF/WAV container.
type WAVInfo struct {
	DataOffset int // byte offset of the first PCM sample
	DataSize   int // length of the PCM payload in bytes
	Format     Format
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	bps := BytesPerSample * 8
	byteRate := f.SampleRate * f.Channels * BytesPerSample
	blockAlign := f.Channels * BytesPerSample
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                   // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                    // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))     // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))   // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))          // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and locates the fmt and data chunks.
// Only 16-bit PCM payloads are accepted.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Format.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.Format.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != 16 {
					return WAVInfo{}, errors.New("audio: only 16-bit PCM WAV is supported")
				}
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			// Streaming encoders write 0 or 0xFFFFFFFF when the length is unknown.
			info.DataSize = min(chunkSize, len(wav)-info.DataOffset)
			if chunkSize == 0 {
				info.DataSize = len(wav) - info.DataOffset
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV missing data chunk")
}
