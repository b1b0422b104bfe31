package pipeline

import "errors"

// Sentinel errors classifying why an utterance was abandoned. Stage errors
// wrap the underlying collaborator error, so both errors.Is checks work.
var (
	// ErrEmptyTranscript means the transcriber heard nothing. It is benign.
	ErrEmptyTranscript = errors.New("pipeline: empty transcript")

	// ErrTranscription wraps a transcriber failure.
	ErrTranscription = errors.New("pipeline: transcription failed")

	// ErrInference wraps an LLM failure, including the inference timeout.
	ErrInference = errors.New("pipeline: inference failed")

	// ErrSynthesis wraps a synthesizer or assembly failure.
	ErrSynthesis = errors.New("pipeline: synthesis failed")

	// ErrNoLink means no device link was available for the hardware sequence.
	ErrNoLink = errors.New("pipeline: no device link")

	// ErrCapabilityMissing means the device does not expose a capability the
	// hardware sequence needs.
	ErrCapabilityMissing = errors.New("pipeline: device capability missing")

	// ErrSequence wraps a device call failure during the hardware sequence.
	ErrSequence = errors.New("pipeline: hardware sequence failed")
)

// outcome maps a task result to the "outcome" metric attribute.
func outcome(err error) string {
	switch {
	case err == nil:
		return "played"
	case errors.Is(err, ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, ErrTranscription):
		return "transcription_error"
	case errors.Is(err, ErrInference):
		return "inference_error"
	case errors.Is(err, ErrSynthesis):
		return "synthesis_error"
	case errors.Is(err, ErrCapabilityMissing):
		return "capability_missing"
	case errors.Is(err, ErrNoLink):
		return "no_link"
	case errors.Is(err, ErrSequence):
		return "sequence_error"
	default:
		return "error"
	}
}
