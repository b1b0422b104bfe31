// Package elevenlabs provides an ElevenLabs-backed synthesizer using the
// ElevenLabs streaming WebSocket API. It implements the tts.Synthesizer
// interface.
//
// The whole reply is sent as a single text message followed by a flush, and
// the streamed audio chunks are collected into one clip. Output is requested
// as raw PCM so no decoder is needed on the way back.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/tts"
)

const (
	defaultEndpoint  = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Synthesizer = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
// Only pcm_* formats are accepted.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithEndpoint overrides the WebSocket base URL. Used by tests.
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Synthesizer backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	voiceID      string
	model        string
	outputFormat string
	sampleRate   int
	endpoint     string
}

// New creates a new ElevenLabs Provider speaking with voiceID. apiKey and
// voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		endpoint:     defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := parsePCMFormat(p.outputFormat)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	p.sampleRate = rate
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, text, language string) (*audio.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(language), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	messages := []any{
		boiMessage{
			Text:          " ", // ElevenLabs requires a non-empty first text value
			VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
			XiAPIKey:      p.apiKey,
		},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""}, // flush
	}
	for _, m := range messages {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	return &audio.Clip{
		Data:     pcm,
		Encoding: audio.EncodingPCM,
		Format:   audio.Format{SampleRate: p.sampleRate, Channels: 1},
	}, nil
}

// streamURL constructs the WebSocket URL for the configured voice and model.
func (p *Provider) streamURL(language string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if language != "" {
		q.Set("language_code", language)
	}
	return fmt.Sprintf("%s/%s/stream-input?%s", p.endpoint, url.PathEscape(p.voiceID), q.Encode())
}

// parsePCMFormat extracts the sample rate from an ElevenLabs pcm_<rate>
// output format name.
func parsePCMFormat(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("output format %q is not raw PCM", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("output format %q has no valid sample rate", format)
	}
	return n, nil
}
