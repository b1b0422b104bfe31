package audio

// Encoding identifies the container or codec of an audio payload returned by
// a synthesis engine.
type Encoding string

const (
	// EncodingPCM is raw 16-bit signed little-endian PCM with no header.
	EncodingPCM Encoding = "pcm"

	// EncodingWAV is a RIFF/WAV container.
	EncodingWAV Encoding = "wav"

	// EncodingMP3 is an MPEG-1/2 Layer III stream.
	EncodingMP3 Encoding = "mp3"
)

// Clip is an audio payload together with the metadata needed to decode it.
// For [EncodingPCM] Format must be set; for container encodings it is read
// from the payload and Format is ignored.
type Clip struct {
	Data     []byte
	Encoding Encoding
	Format   Format
}
