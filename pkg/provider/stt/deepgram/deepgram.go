// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram pre-recorded audio API. It implements the stt.Transcriber
// interface.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/stt"
	"github.com/tidwall/gjson"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// transcriptPath locates the best alternative of the first channel in a
	// pre-recorded response.
	transcriptPath = "results.channels.0.alternatives.0.transcript"
)

var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API endpoint. Used by tests and self-hosted
// deployments.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// Provider implements stt.Transcriber backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   deepgramEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads pcm as a WAV file and returns the top transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, f audio.Format) (string, error) {
	endpoint, err := p.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.EncodeWAV(pcm, f)))
	if err != nil {
		return "", fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseTranscript(body)
}

// buildURL constructs the Deepgram endpoint URL with recognition parameters.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseTranscript extracts the transcript from a pre-recorded response. A
// response without any alternative yields an empty transcript.
func parseTranscript(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("deepgram: response is not valid JSON")
	}
	return strings.TrimSpace(gjson.GetBytes(body, transcriptPath).String()), nil
}
