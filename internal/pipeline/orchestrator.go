// Package pipeline implements the voice round trip of the bridge: the
// utterance state machine that arms capture on a device start event,
// snapshots the capture on stop, and runs transcription, inference,
// synthesis, assembly, publication and hardware sequencing in a background
// task.
//
// Event handlers never block on collaborators. Each accepted utterance gets
// its own task; tasks are not cancelled when a new utterance arrives, so
// overlapping replies resolve last-write-wins on the published asset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/aipibridge/internal/assembly"
	"github.com/MrWong99/aipibridge/internal/capture"
	"github.com/MrWong99/aipibridge/internal/device"
	"github.com/MrWong99/aipibridge/internal/observe"
	"github.com/MrWong99/aipibridge/internal/playback"
	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/llm"
	"github.com/MrWong99/aipibridge/pkg/provider/stt"
	"github.com/MrWong99/aipibridge/pkg/provider/tts"
)

// Default orchestrator parameters.
const (
	DefaultMinUtteranceBytes = 1000
	DefaultInferenceTimeout  = 60 * time.Second
	DefaultMaxTokens         = 500
	DefaultTemperature       = 0.6
	DefaultLanguage          = "en"
	DefaultFallbackReply     = "I am ready."
)

// State is the orchestrator's position in the utterance lifecycle.
type State int

const (
	// StateIdle means no capture is armed and no task is running.
	StateIdle State = iota
	// StateArmed means frames are being captured.
	StateArmed
	// StateProcessing means at least one task is running and capture is idle.
	StateProcessing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Player drives the device hardware for a published asset. [*Sequencer]
// implements it.
type Player interface {
	Play(ctx context.Context, d time.Duration) error
}

// Config holds orchestrator settings. Zero values select defaults.
type Config struct {
	// CapturePort is announced to the device on every start event.
	CapturePort int

	// MinUtteranceBytes is the smallest capture that is processed: a capture
	// of exactly this many bytes proceeds, anything shorter is discarded as
	// noise.
	MinUtteranceBytes int

	// Language is passed to the synthesizer.
	Language string

	// FallbackReply is spoken when inference yields no text.
	FallbackReply string

	// SystemPrompt is sent with every inference request when non-empty.
	SystemPrompt string

	MaxTokens        int
	Temperature      float64
	InferenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinUtteranceBytes <= 0 {
		c.MinUtteranceBytes = DefaultMinUtteranceBytes
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	return c
}

// Utterance is one start→stop cycle. It lives for the duration of its
// processing task and is never persisted.
type Utterance struct {
	ID             uuid.UUID
	ConversationID string
	Audio          []byte
	Transcript     string
	Reply          string
	Asset          *playback.Asset
}

// Orchestrator is the utterance state machine.
//
// All methods are safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	recorder  *capture.Recorder
	stt       stt.Transcriber
	llm       llm.Provider
	tts       tts.Synthesizer
	assembler *assembly.Assembler
	store     *playback.Store
	sequencer Player
	metrics   *observe.Metrics

	mu             sync.Mutex
	conversationID string

	ctx      context.Context
	cancel   context.CancelFunc
	tasks    sync.WaitGroup
	inFlight atomic.Int64

	// onTaskDone is called after every task with its result. Used by tests.
	onTaskDone func(*Utterance, error)
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAssembler replaces the default assembler.
func WithAssembler(a *assembly.Assembler) Option {
	return func(o *Orchestrator) {
		o.assembler = a
	}
}

// WithTaskHook registers fn to be called when a processing task finishes.
func WithTaskHook(fn func(*Utterance, error)) Option {
	return func(o *Orchestrator) {
		o.onTaskDone = fn
	}
}

// Collaborators groups the external services a processing task calls.
type Collaborators struct {
	Transcriber stt.Transcriber
	LLM         llm.Provider
	Synthesizer tts.Synthesizer
}

// New creates an Orchestrator. The recorder is shared with the capture
// listener; the store with the playback server.
func New(cfg Config, rec *capture.Recorder, c Collaborators, store *playback.Store, seq Player, opts ...Option) (*Orchestrator, error) {
	switch {
	case rec == nil:
		return nil, errors.New("pipeline: recorder is required")
	case c.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case c.LLM == nil:
		return nil, errors.New("pipeline: llm is required")
	case c.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case store == nil:
		return nil, errors.New("pipeline: playback store is required")
	case seq == nil:
		return nil, errors.New("pipeline: sequencer is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		recorder:  rec,
		stt:       c.Transcriber,
		llm:       c.LLM,
		tts:       c.Synthesizer,
		store:     store,
		sequencer: seq,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.assembler == nil {
		o.assembler = assembly.New()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Handlers returns the device voice callbacks bound to this orchestrator.
func (o *Orchestrator) Handlers() device.VoiceHandlers {
	return device.VoiceHandlers{
		OnStart: o.Start,
		OnStop:  o.Stop,
		OnAudio: func(frame []byte) { o.recorder.Feed(frame) },
	}
}

// Start arms capture for a new utterance, discarding anything captured
// before, and returns the UDP port the device should stream to.
func (o *Orchestrator) Start(conversationID string) int {
	o.recorder.Start()
	o.mu.Lock()
	o.conversationID = conversationID
	o.mu.Unlock()
	slog.Info("voice start", "conversation_id", conversationID, "port", o.cfg.CapturePort)
	return o.cfg.CapturePort
}

// Stop closes the capture window and, when enough audio was captured,
// launches a processing task for it.
func (o *Orchestrator) Stop() {
	o.stop()
}

// stop reports whether a task was started.
func (o *Orchestrator) stop() bool {
	pcm := o.recorder.Stop()
	o.mu.Lock()
	convID := o.conversationID
	o.conversationID = ""
	o.mu.Unlock()

	o.metrics.CapturedBytes.Record(o.ctx, int64(len(pcm)))
	if len(pcm) < o.cfg.MinUtteranceBytes {
		o.metrics.DiscardedUtterances.Add(o.ctx, 1)
		slog.Info("voice stop: capture too short, discarded", "bytes", len(pcm), "min_bytes", o.cfg.MinUtteranceBytes)
		return false
	}
	if o.ctx.Err() != nil {
		slog.Warn("voice stop: shutting down, utterance dropped", "bytes", len(pcm))
		return false
	}

	u := &Utterance{
		ID:             uuid.New(),
		ConversationID: convID,
		Audio:          pcm,
	}
	slog.Info("voice stop", "utterance_id", u.ID.String(), "bytes", len(pcm))

	o.tasks.Add(1)
	o.inFlight.Add(1)
	o.metrics.InFlightTasks.Add(o.ctx, 1)
	go o.runTask(u)
	return true
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	if o.recorder.State() == capture.Armed {
		return StateArmed
	}
	if o.inFlight.Load() > 0 {
		return StateProcessing
	}
	return StateIdle
}

// Shutdown stops accepting new tasks, cancels running ones and waits for
// them to return or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: shutdown: %w", ctx.Err())
	}
}

// runTask is the task boundary: it recovers panics and reports the result.
func (o *Orchestrator) runTask(u *Utterance) {
	ctx, span := observe.WithUtterance(o.ctx, u.ID.String())
	log := observe.Logger(ctx)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: panic: %v", r)
			log.Error("processing task panicked", "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil && !errors.Is(err, ErrEmptyTranscript) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.inFlight.Add(-1)
		o.metrics.InFlightTasks.Add(context.Background(), -1)
		o.metrics.RecordUtterance(context.Background(), outcome(err))
		if o.onTaskDone != nil {
			o.onTaskDone(u, err)
		}
		o.tasks.Done()
	}()

	err = o.process(ctx, u)
	switch {
	case err == nil:
		log.Info("utterance complete", "reply", u.Reply, "duration", u.Asset.Duration)
	case errors.Is(err, ErrEmptyTranscript):
		log.Debug("no speech recognised")
	case errors.Is(err, ErrCapabilityMissing):
		log.Error("device is missing a required capability; check the firmware configuration", "err", err)
	default:
		log.Error("processing failed", "err", err)
	}
}

// process runs the fail-fast stage chain for one utterance.
func (o *Orchestrator) process(ctx context.Context, u *Utterance) error {
	log := observe.Logger(ctx)

	// Transcribe.
	sctx, span, start := o.startStage(ctx, observe.StageTranscribe)
	text, err := o.stt.Transcribe(sctx, u.Audio, audio.SpeechFormat)
	o.endStage(sctx, span, observe.StageTranscribe, start, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTranscript
	}
	u.Transcript = text
	log.Info("heard", "transcript", text)

	// Infer.
	reply, err := o.infer(ctx, text)
	if err != nil {
		return err
	}
	u.Reply = reply
	log.Info("reply", "text", reply)

	// Synthesize.
	sctx, span, start = o.startStage(ctx, observe.StageSynthesize)
	clip, err := o.tts.Synthesize(sctx, reply, o.cfg.Language)
	if err == nil && clip == nil {
		err = errors.New("no audio returned")
	}
	o.endStage(sctx, span, observe.StageSynthesize, start, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	// Assemble.
	sctx, span, start = o.startStage(ctx, observe.StageAssemble)
	res, err := o.assembler.Assemble(clip)
	o.endStage(sctx, span, observe.StageAssemble, start, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	// Publish.
	u.Asset = o.store.Publish(res.WAV, res.Duration)
	o.metrics.RecordPublication(ctx, res.Duration)
	log.Debug("asset published", "version", u.Asset.Version, "bytes", len(res.WAV), "duration", res.Duration)

	// Sequence the hardware.
	sctx, span, start = o.startStage(ctx, observe.StageSequence)
	err = o.sequencer.Play(sctx, res.Duration)
	o.endStage(sctx, span, observe.StageSequence, start, err)
	return err
}

// startStage opens the span of one processing stage.
func (o *Orchestrator) startStage(ctx context.Context, stage string) (context.Context, trace.Span, time.Time) {
	ctx, span := observe.StartStage(ctx, stage)
	return ctx, span, time.Now()
}

// endStage records the stage latency and closes its span, marking it failed
// when err is non-nil.
func (o *Orchestrator) endStage(ctx context.Context, span trace.Span, stage string, start time.Time, err error) {
	o.metrics.RecordStage(ctx, stage, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// infer queries the LLM under the inference timeout and extracts the reply.
func (o *Orchestrator) infer(ctx context.Context, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	defer cancel()

	ctx, span, start := o.startStage(ctx, observe.StageInfer)
	resp, err := o.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: o.cfg.SystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
	})
	o.endStage(ctx, span, observe.StageInfer, start, err)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s: %w", ErrInference, o.cfg.InferenceTimeout, err)
		}
		return "", fmt.Errorf("%w: %w", ErrInference, err)
	}
	if resp == nil {
		return o.cfg.FallbackReply, nil
	}
	return ReplyText(resp.Content, resp.Reasoning, o.cfg.FallbackReply), nil
}
