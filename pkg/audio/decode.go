package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// resampleQuality is passed to beep.Resample. 4 is beep's recommended
// speed/quality trade-off for speech.
const resampleQuality = 4

// streamChunk is the number of frames pulled from a beep streamer per call.
const streamChunk = 512

// Decode converts c into mono 16 kHz 16-bit PCM ([SpeechFormat]).
//
// Raw PCM and 16-bit WAV go through the integer converters in this package.
// MP3 and WAV variants other than 16-bit PCM are decoded and resampled with
// beep.
func Decode(c Clip) ([]byte, error) {
	switch c.Encoding {
	case EncodingPCM, "":
		if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
			return nil, fmt.Errorf("audio: decode: raw PCM needs a format, got %s", c.Format)
		}
		return ToSpeechFormat(c.Data, c.Format)
	case EncodingWAV:
		info, err := ParseWAV(c.Data)
		if err == nil && info.Format.Channels <= 2 {
			return ToSpeechFormat(c.Data[info.DataOffset:info.DataOffset+info.DataSize], info.Format)
		}
		s, f, err := wav.Decode(bytes.NewReader(c.Data))
		if err != nil {
			return nil, fmt.Errorf("audio: decode wav: %w", err)
		}
		return streamToSpeech(s, f)
	case EncodingMP3:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(c.Data)))
		if err != nil {
			return nil, fmt.Errorf("audio: decode mp3: %w", err)
		}
		return streamToSpeech(s, f)
	default:
		return nil, fmt.Errorf("audio: decode: unsupported encoding %q", c.Encoding)
	}
}

// streamToSpeech drains s, resampling to 16 kHz and averaging both channels
// into one. beep delivers mono sources with identical left and right
// samples, so the average is exact for them.
func streamToSpeech(s beep.StreamSeekCloser, f beep.Format) ([]byte, error) {
	defer s.Close()

	target := beep.SampleRate(SpeechFormat.SampleRate)
	var src beep.Streamer = s
	if f.SampleRate != target {
		src = beep.Resample(resampleQuality, f.SampleRate, target, s)
	}

	var out []byte
	buf := make([][2]float64, streamChunk)
	for {
		n, ok := src.Stream(buf)
		for _, frame := range buf[:n] {
			v := (frame[0] + frame[1]) / 2
			out = binary.LittleEndian.AppendUint16(out, uint16(clamp16(v*32767)))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("audio: decode stream: %w", err)
	}
	return out, nil
}
