// Package gtts provides a synthesizer backed by the Google Translate
// text-to-speech endpoint, the same voice the original bridge used. It needs
// no credentials and returns MP3, which audio.Decode turns into PCM.
//
// The endpoint accepts at most 100 characters per request, so long replies
// are split on word boundaries and the returned MP3 segments are
// concatenated. MPEG frames are self-delimiting, so the concatenation is a
// valid stream.
package gtts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/tts"
)

const (
	defaultBaseURL  = "https://translate.google.com"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// maxChunkRunes is the longest text the endpoint accepts per request.
	maxChunkRunes = 100
)

var _ tts.Synthesizer = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithBaseURL overrides the endpoint host (e.g., for tests or a regional
// mirror such as "https://translate.google.de").
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithLanguage sets the default language used when Synthesize is called with
// an empty language.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.client.Timeout = d
	}
}

// Provider implements tts.Synthesizer against translate_tts.
type Provider struct {
	baseURL  string
	language string
	client   *http.Client
}

// New creates a Provider with sensible defaults.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:  defaultBaseURL,
		language: defaultLanguage,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, text, language string) (*audio.Clip, error) {
	if language == "" {
		language = p.language
	}
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return nil, errors.New("gtts: text must not be empty")
	}

	var mp3 []byte
	for i, chunk := range chunks {
		data, err := p.fetch(ctx, chunk, language, i, len(chunks))
		if err != nil {
			return nil, err
		}
		mp3 = append(mp3, data...)
	}
	if len(mp3) == 0 {
		return nil, errors.New("gtts: empty audio response")
	}
	return &audio.Clip{Data: mp3, Encoding: audio.EncodingMP3}, nil
}

// fetch downloads one MP3 segment.
func (p *Provider) fetch(ctx context.Context, text, language string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("q", text)
	q.Set("tl", language)
	q.Set("total", fmt.Sprint(total))
	q.Set("idx", fmt.Sprint(idx))
	q.Set("textlen", fmt.Sprint(utf8.RuneCountInString(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/translate_tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gtts: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gtts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gtts: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gtts: read response: %w", err)
	}
	return data, nil
}

// splitText breaks text into pieces of at most limit runes, preferring to cut
// at whitespace. Words longer than limit are hard-split.
func splitText(text string, limit int) []string {
	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > limit {
			flush()
			r := []rune(word)
			chunks = append(chunks, string(r[:limit]))
			word = string(r[limit:])
		}
		wl := utf8.RuneCountInString(word)
		if n > 0 && n+1+wl > limit {
			flush()
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(word)
		n += wl
	}
	flush()
	return chunks
}
