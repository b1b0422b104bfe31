package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/aipibridge/internal/capture"
	"github.com/MrWong99/aipibridge/internal/pipeline"
	"github.com/MrWong99/aipibridge/internal/playback"
	"github.com/MrWong99/aipibridge/internal/supervisor"
)

// Defaults applied by [ApplyDefaults] that have no home in another package.
const (
	DefaultAdminAddr    = ":9090"
	DefaultDevicePort   = 6053
	DefaultDevicePath   = "/api"
	DefaultPlaybackAddr = ":8080"
	DefaultServiceName  = "aipibridge"
	DefaultLLMModel     = "DeepSeek-R1-1.5B-Q8_0"
	DefaultTTSProvider  = "gtts"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram"},
	"llm": {"openai", "llamacpp", "ollama", "llamafile", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"tts": {"gtts", "coqui", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued setting that has a default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.AdminAddr, DefaultAdminAddr)

	setDefault(&cfg.Device.Port, DefaultDevicePort)
	setDefault(&cfg.Device.Path, DefaultDevicePath)
	setDefault(&cfg.Device.ReconnectDelay, supervisor.DefaultRetryDelay)
	setDefault(&cfg.Device.Capabilities.SpeakerWake, pipeline.DefaultSpeakerWake)
	setDefault(&cfg.Device.Capabilities.MicRestore, pipeline.DefaultMicRestore)
	setDefault(&cfg.Device.Capabilities.MediaPlayer, pipeline.DefaultMediaPlayer)

	setDefault(&cfg.Capture.Port, capture.DefaultPort)
	setDefault(&cfg.Capture.MinUtteranceBytes, pipeline.DefaultMinUtteranceBytes)
	setDefault(&cfg.Capture.FrameQueue, capture.DefaultQueueSize)

	setDefault(&cfg.Playback.ListenAddr, DefaultPlaybackAddr)
	setDefault(&cfg.Playback.Route, playback.DefaultRoute)

	setDefault(&cfg.Pipeline.Language, pipeline.DefaultLanguage)
	setDefault(&cfg.Pipeline.FallbackReply, pipeline.DefaultFallbackReply)
	setDefault(&cfg.Pipeline.MaxTokens, pipeline.DefaultMaxTokens)
	setDefault(&cfg.Pipeline.Temperature, pipeline.DefaultTemperature)
	setDefault(&cfg.Pipeline.InferenceTimeout, pipeline.DefaultInferenceTimeout)
	setDefault(&cfg.Pipeline.SettleDelay, pipeline.DefaultSettleDelay)
	setDefault(&cfg.Pipeline.PlaybackMargin, pipeline.DefaultPlaybackMargin)

	setDefault(&cfg.Providers.TTS.Name, DefaultTTSProvider)
	if cfg.Providers.LLM.Name != "" {
		setDefault(&cfg.Providers.LLM.Model, DefaultLLMModel)
	}

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Device
	if cfg.Device.Host == "" {
		errs = append(errs, errors.New("device.host is required"))
	}
	if !validPort(cfg.Device.Port) {
		errs = append(errs, fmt.Errorf("device.port %d is out of range [1, 65535]", cfg.Device.Port))
	}
	if !strings.HasPrefix(cfg.Device.Path, "/") {
		errs = append(errs, fmt.Errorf("device.path %q must start with /", cfg.Device.Path))
	}
	if cfg.Device.ReconnectDelay < 0 || cfg.Device.DialTimeout < 0 {
		errs = append(errs, errors.New("device durations must not be negative"))
	}
	caps := cfg.Device.Capabilities
	if caps.SpeakerWake == "" || caps.MicRestore == "" || caps.MediaPlayer == "" {
		errs = append(errs, errors.New("device.capabilities names must not be empty"))
	}

	// Capture
	if !validPort(cfg.Capture.Port) {
		errs = append(errs, fmt.Errorf("capture.port %d is out of range [1, 65535]", cfg.Capture.Port))
	}
	if cfg.Capture.MinUtteranceBytes < 0 {
		errs = append(errs, fmt.Errorf("capture.min_utterance_bytes %d must not be negative", cfg.Capture.MinUtteranceBytes))
	}
	if cfg.Capture.FrameQueue < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_queue %d must not be negative", cfg.Capture.FrameQueue))
	}

	// Playback
	if cfg.Playback.PublicBaseURL == "" {
		errs = append(errs, errors.New("playback.public_base_url is required; the device fetches replies from it"))
	} else if u, err := url.Parse(cfg.Playback.PublicBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("playback.public_base_url %q must be an absolute http(s) URL", cfg.Playback.PublicBaseURL))
	}
	if !strings.HasPrefix(cfg.Playback.Route, "/") {
		errs = append(errs, fmt.Errorf("playback.route %q must start with /", cfg.Playback.Route))
	}

	// Pipeline
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", cfg.Pipeline.Temperature))
	}
	if cfg.Pipeline.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", cfg.Pipeline.MaxTokens))
	}
	if cfg.Pipeline.InferenceTimeout < 0 || cfg.Pipeline.SettleDelay < 0 || cfg.Pipeline.PlaybackMargin < 0 {
		errs = append(errs, errors.New("pipeline durations must not be negative"))
	}

	// Providers
	for _, p := range []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
	} {
		if p.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", p.kind))
			continue
		}
		validateProviderName(p.kind, p.entry.Name)
	}
	if cfg.Providers.LLM.Name == "openai" && cfg.Providers.LLM.BaseURL == "" {
		slog.Warn("providers.llm.base_url is empty; requests will go to api.openai.com instead of a local inference server")
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
