package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/aipibridge/internal/config"
	"github.com/MrWong99/aipibridge/internal/device"
	devicemock "github.com/MrWong99/aipibridge/internal/device/mock"
	"github.com/MrWong99/aipibridge/internal/observe"
	"github.com/MrWong99/aipibridge/pkg/audio"
	"github.com/MrWong99/aipibridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/aipibridge/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/aipibridge/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/aipibridge/pkg/provider/tts/mock"
)

// freeUDPPort returns a port that was free a moment ago.
func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()
	return port
}

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln
}

// testConfig returns a defaulted config with fast hardware timings.
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Device.Host = "aipi.test"
	cfg.Playback.PublicBaseURL = "http://bridge.test:8080"
	cfg.Capture.ListenHost = "127.0.0.1"
	cfg.Capture.Port = freeUDPPort(t)
	cfg.Device.ReconnectDelay = 10 * time.Millisecond
	cfg.Pipeline.SettleDelay = time.Millisecond
	cfg.Pipeline.PlaybackMargin = time.Millisecond
	cfg.Providers.STT.Name = "mock"
	cfg.Providers.LLM.Name = "mock"
	config.ApplyDefaults(cfg)
	return cfg
}

func testCapabilities() device.Capabilities {
	return device.Capabilities{
		Services: []device.Service{{Name: "prepare_speaker", Key: 1}, {Name: "restore_mic", Key: 2}},
		Entities: []device.Entity{{Name: "AiPi Media Player", ObjectID: "aipi_media_player", Key: 7, Kind: device.EntityMediaPlayer}},
	}
}

func testProviders() *Providers {
	return &Providers{
		STT: &sttmock.Transcriber{Text: "turn on the light"},
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "<think>sure</think>OK turning on the light."}},
		TTS: &ttsmock.Synthesizer{Clip: &audio.Clip{
			Data:     audio.Sine(300, 100*time.Millisecond, 8000, audio.SpeechFormat),
			Encoding: audio.EncodingPCM,
			Format:   audio.SpeechFormat,
		}},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type running struct {
	app      *App
	playback string
	admin    string
	cancel   context.CancelFunc
	done     chan error
}

func startApp(t *testing.T, cfg *config.Config, providers *Providers, dialer device.Dialer) *running {
	t.Helper()
	pln, aln := listenTCP(t), listenTCP(t)
	a, err := New(cfg, providers,
		WithDialer(dialer),
		WithMetrics(testMetrics(t)),
		WithPlaybackListener(pln),
		WithAdminListener(aln),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	r := &running{
		app:      a,
		playback: "http://" + pln.Addr().String(),
		admin:    "http://" + aln.Addr().String(),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { r.done <- a.Run(ctx) }()
	t.Cleanup(func() { r.stop(t) })
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err, ok := <-r.done:
		if ok && err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		if ok {
			close(r.done)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.app.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp, body
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	if _, err := New(nil, testProviders()); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := New(cfg, nil); err == nil {
		t.Error("nil providers accepted")
	}
	p := testProviders()
	p.TTS = nil
	if _, err := New(cfg, p); err == nil {
		t.Error("missing tts accepted")
	}
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	link := devicemock.NewLink()
	link.CapabilitiesResult = testCapabilities()
	providers := testProviders()
	r := startApp(t, cfg, providers, &devicemock.Dialer{Links: []*devicemock.Link{link}})

	waitFor(t, "subscription", link.Subscribed)
	select {
	case <-r.app.listener.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("capture listener never bound")
	}

	// Before any reply the asset route answers with an empty body.
	resp, body := get(t, r.playback+"/voice.wav")
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Fatalf("before publish: status %d, %d bytes", resp.StatusCode, len(body))
	}

	if port := link.FireStart("conv-1"); port != cfg.Capture.Port {
		t.Fatalf("start returned port %d, want %d", port, cfg.Capture.Port)
	}

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", cfg.Capture.Port))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	frame := bytes.Repeat([]byte{0x10, 0x00}, 320)
	for range 5 {
		if _, err := conn.Write(frame); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "captured frames", func() bool { return r.app.frames.Load() >= 5 })
	link.FireStop()

	waitFor(t, "media playback", func() bool {
		_, plays := link.Snapshot()
		return len(plays) == 1
	})
	execs, plays := link.Snapshot()
	if plays[0].URL != "http://bridge.test:8080/voice.wav" || plays[0].EntityKey != 7 {
		t.Errorf("play media = %+v", plays[0])
	}
	waitFor(t, "mic restore", func() bool {
		execs, _ = link.Snapshot()
		return len(execs) == 2
	})
	if execs[0].Service.Name != "prepare_speaker" || execs[1].Service.Name != "restore_mic" {
		t.Errorf("services = %s, %s", execs[0].Service.Name, execs[1].Service.Name)
	}

	stt := providers.STT.(*sttmock.Transcriber)
	if got := len(stt.LastCall().PCM); got != 5*len(frame) {
		t.Errorf("transcribed %d bytes, want %d", got, 5*len(frame))
	}
	if got := providers.TTS.(*ttsmock.Synthesizer).LastCall().Text; got != "OK turning on the light." {
		t.Errorf("synthesized %q", got)
	}

	resp, body = get(t, r.playback+"/voice.wav")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("asset status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	// 500 ms tone + 100 ms speech at 16 kHz mono 16-bit.
	if want := audio.WAVHeaderSize + (8000+1600)*2; len(body) != want {
		t.Errorf("asset size = %d, want %d", len(body), want)
	}
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		t.Error("asset is not a RIFF file")
	}
}

func TestApp_AdminEndpoints(t *testing.T) {
	cfg := testConfig(t)
	link := devicemock.NewLink()
	link.CapabilitiesResult = testCapabilities()
	r := startApp(t, cfg, testProviders(), &devicemock.Dialer{Links: []*devicemock.Link{link}})

	waitFor(t, "subscription", link.Subscribed)
	<-r.app.listener.Ready()

	resp, _ := get(t, r.admin+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}
	resp, body := get(t, r.admin+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz = %d: %s", resp.StatusCode, body)
	}
	resp, _ = get(t, r.admin+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d", resp.StatusCode)
	}
}

func TestApp_NotReadyWithoutDevice(t *testing.T) {
	cfg := testConfig(t)
	refused := errors.New("connection refused")
	errs := make([]error, 10000)
	for i := range errs {
		errs[i] = refused
	}
	dialer := &devicemock.Dialer{DialErrs: errs}
	r := startApp(t, cfg, testProviders(), dialer)

	waitFor(t, "dial attempts", func() bool { return dialer.CallCount() >= 2 })

	resp, body := get(t, r.admin+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503", resp.StatusCode)
	}
	var res struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Checks["device_link"] != "fail: device link down" {
		t.Errorf("device_link = %q", res.Checks["device_link"])
	}
	// Capture starts only after the first successful subscription.
	if res.Checks["capture"] != "fail: capture listener not bound" {
		t.Errorf("capture = %q", res.Checks["capture"])
	}
}

func TestApp_ReconnectKeepsCaptureListener(t *testing.T) {
	cfg := testConfig(t)
	first, second := devicemock.NewLink(), devicemock.NewLink()
	first.CapabilitiesResult = testCapabilities()
	second.CapabilitiesResult = testCapabilities()
	r := startApp(t, cfg, testProviders(), &devicemock.Dialer{Links: []*devicemock.Link{first, second}})

	waitFor(t, "first subscription", first.Subscribed)
	<-r.app.listener.Ready()
	addr := r.app.listener.Addr()

	first.Fail(errors.New("wifi dropped"))
	waitFor(t, "second subscription", second.Subscribed)
	waitFor(t, "supervisor on second link", func() bool { return r.app.supervisor.Link() == device.Link(second) })

	if got := r.app.listener.Addr(); got != addr {
		t.Errorf("listener rebound: %v → %v", addr, got)
	}
	if port := first.FireStart("stale"); port != 0 {
		t.Errorf("stale link start returned %d", port)
	}
	if port := second.FireStart("live"); port != cfg.Capture.Port {
		t.Errorf("live link start returned %d, want %d", port, cfg.Capture.Port)
	}
}
