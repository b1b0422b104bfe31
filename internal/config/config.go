// Package config provides the configuration schema, loader, and provider registry
// for the AiPi voice bridge.
package config

import (
	"strings"
	"time"
)

// LogLevel controls log verbosity for the bridge.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the bridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Capture   CaptureConfig   `yaml:"capture"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds logging and admin endpoint settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AdminAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9090"). Set to "-" to disable the admin server.
	AdminAddr string `yaml:"admin_addr"`
}

// AdminEnabled reports whether the admin server should run.
func (s ServerConfig) AdminEnabled() bool {
	return s.AdminAddr != "-"
}

// DeviceConfig describes how to reach the voice satellite.
type DeviceConfig struct {
	// Host is the device address (e.g., "10.0.100.61").
	Host string `yaml:"host"`

	// Port is the device API port. Defaults to 6053.
	Port int `yaml:"port"`

	// Password authenticates against the device API. May be empty.
	Password string `yaml:"password"`

	// Path is the websocket endpoint path on the device. Defaults to "/api".
	Path string `yaml:"path"`

	// TLS dials wss:// instead of ws://.
	TLS bool `yaml:"tls"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReconnectDelay is the fixed pause after a link fault. Defaults to 5s.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// Capabilities names the services and entity the hardware sequence uses.
	Capabilities CapabilityNames `yaml:"capabilities"`
}

// CapabilityNames holds the device-side names resolved before every playback.
type CapabilityNames struct {
	SpeakerWake string `yaml:"speaker_wake"`
	MicRestore  string `yaml:"mic_restore"`
	MediaPlayer string `yaml:"media_player"`
}

// CaptureConfig configures raw audio ingestion.
type CaptureConfig struct {
	// ListenHost is the interface the UDP listener binds. Empty means all.
	ListenHost string `yaml:"listen_host"`

	// Port is the fixed UDP port announced to the device. Defaults to 50000.
	Port int `yaml:"port"`

	// MinUtteranceBytes is the smallest capture that is processed. A capture
	// of exactly this size proceeds; anything shorter is discarded.
	// Defaults to 1000.
	MinUtteranceBytes int `yaml:"min_utterance_bytes"`

	// FrameQueue is the number of frames buffered between the listener and
	// the recorder. Defaults to 1024.
	FrameQueue int `yaml:"frame_queue"`
}

// PlaybackConfig configures the asset HTTP server.
type PlaybackConfig struct {
	// ListenAddr is the TCP address of the playback server. Defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// PublicBaseURL is how the device reaches this server
	// (e.g., "http://10.0.100.62:8080"). Required.
	PublicBaseURL string `yaml:"public_base_url"`

	// Route is the asset path. Defaults to "/voice.wav".
	Route string `yaml:"route"`
}

// MediaURL returns the absolute URL the device media player fetches.
func (p PlaybackConfig) MediaURL() string {
	return strings.TrimRight(p.PublicBaseURL, "/") + p.Route
}

// PipelineConfig tunes the utterance processing chain.
type PipelineConfig struct {
	// Language is passed to the synthesizer. Defaults to "en".
	Language string `yaml:"language"`

	// FallbackReply is spoken when the model returns no text.
	FallbackReply string `yaml:"fallback_reply"`

	// SystemPrompt is sent with every inference request when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// SettleDelay is the pause between waking the speaker and playing.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// PlaybackMargin is added to the asset duration before restoring the
	// microphone.
	PlaybackMargin time.Duration `yaml:"playback_margin"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "DeepSeek-R1-1.5B-Q8_0", "ggml-tiny.en.bin").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptString extracts a string option. Returns "" if the key is absent or
// not a string.
func (e ProviderEntry) OptString(key string) string {
	if e.Options == nil {
		return ""
	}
	s, _ := e.Options[key].(string)
	return s
}

// OptInt extracts an integer option. Whole floats are accepted; anything
// else yields 0.
func (e ProviderEntry) OptInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return 0
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Defaults to "aipibridge".
	ServiceName string `yaml:"service_name"`
}
