// Package audio holds the PCM plumbing shared by the bridge: format
// conversion, RIFF/WAV framing, tone generation, loudness normalization and
// decoding of synthesized speech.
//
// Every buffer is 16-bit signed little-endian PCM. The bridge speaks
// [SpeechFormat] (mono, 16 kHz) on every edge, so most helpers convert into
// that format rather than between arbitrary ones.
//
// This package lives under pkg/ because provider adapters outside the module
// are expected to hand their output to [Decode].
package audio
