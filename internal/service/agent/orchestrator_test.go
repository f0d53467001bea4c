package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
	"github.com/zhouzirui/vox-agent/backend/internal/service/tts"
)

type recordedEvent struct {
	sessionID string
	event     string
	payload   any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEmitter) Emit(sessionID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{sessionID, event, payload})
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) ofType(event string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, ev := range f.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeEmitter) audioPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		if ev.event == EventAudioChunk {
			out = append(out, ev.payload.(string))
		}
	}
	return out
}

// gatedEmitter stalls audio_chunk deliveries until the gate opens, the way a
// slow client connection backs up the write side.
type gatedEmitter struct {
	fakeEmitter
	gate chan struct{}
}

func (g *gatedEmitter) Emit(sessionID, event string, payload any) {
	if event == EventAudioChunk {
		<-g.gate
	}
	g.fakeEmitter.Emit(sessionID, event, payload)
}

type fakeSynthStream struct {
	mu        sync.Mutex
	sent      []string
	ends      int
	audio     []string
	silent    bool
	leaveOpen bool
	fail      error
	chunks    chan tts.Chunk
	closeOnce sync.Once
}

func newFakeSynthStream() *fakeSynthStream {
	return &fakeSynthStream{chunks: make(chan tts.Chunk, 16)}
}

func (f *fakeSynthStream) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSynthStream) End() error {
	f.mu.Lock()
	f.ends++
	f.mu.Unlock()

	if f.silent {
		return nil
	}
	if f.fail != nil {
		f.closeChunks()
		return nil
	}
	for _, audio := range f.audio {
		f.chunks <- tts.Chunk{Audio: audio}
	}
	if f.leaveOpen {
		return nil
	}
	f.chunks <- tts.Chunk{Final: true}
	f.closeChunks()
	return nil
}

func (f *fakeSynthStream) closeChunks() {
	f.closeOnce.Do(func() { close(f.chunks) })
}

func (f *fakeSynthStream) Chunks() <-chan tts.Chunk { return f.chunks }
func (f *fakeSynthStream) Err() error               { return f.fail }

func (f *fakeSynthStream) Close() error {
	f.closeChunks()
	return nil
}

func (f *fakeSynthStream) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends
}

func (f *fakeSynthStream) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeSynthDialer struct {
	stream  *fakeSynthStream
	dialErr error
}

func (f *fakeSynthDialer) Open(ctx context.Context, apiKey, contextID string, voiceCfg tts.VoiceConfig) (SynthStream, error) {
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.stream, nil
}

type fakeResponder struct {
	reply string
	err   error
}

func (f *fakeResponder) Reply(ctx context.Context, req *ReplyRequest) (string, error) {
	return f.reply, f.err
}

func newTurnService(emitter Emitter, synth SynthDialer, responder Responder) *Service {
	voiceCfg := config.VoiceConfig{
		JoinTimeout: 2 * time.Second,
		TurnTimeout: 5 * time.Second,
		VoiceID:     "en-US-amara",
	}
	personas := persona.NewMemoryStore(persona.Seed())
	return New(config.AgentConfig{MaxToolRounds: 5, HistoryLimit: 10}, voiceCfg, personas, emitter, nil, synth, responder)
}

func configuredSession(t *testing.T, id string) *session.Session {
	t.Helper()
	sess := newTestSession(t, id)
	sess.SetCredentials(voice.Credentials{AssemblyAI: "aai", Ark: "ark", Murf: "murf"})
	return sess
}

func TestTurnStreamsChunksAudioAndCompletes(t *testing.T) {
	emitter := &fakeEmitter{}
	stream := newFakeSynthStream()
	stream.audio = []string{"AAAA", "BBBB"}
	svc := newTurnService(emitter, &fakeSynthDialer{stream: stream}, &fakeResponder{reply: "Hello there. How are you?"})
	sess := configuredSession(t, "turn-ok")

	svc.runTurn(sess, "hi")

	chunks := emitter.ofType(EventLLMChunk)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 llm_chunk events, got %d", len(chunks))
	}
	first := chunks[0].payload.(map[string]any)
	if first["text"] != "Hello there." {
		t.Fatalf("unexpected first chunk: %v", first["text"])
	}

	if got := stream.sentTexts(); len(got) != 2 || got[1] != "How are you?" {
		t.Fatalf("unexpected synthesized sentences: %v", got)
	}
	if stream.endCount() != 1 {
		t.Fatalf("expected exactly one End per turn, got %d", stream.endCount())
	}

	if emitter.count(EventAudioChunk) != 2 {
		t.Fatalf("expected 2 audio_chunk events, got %d", emitter.count(EventAudioChunk))
	}
	if emitter.count(EventLLMComplete) != 1 || emitter.count(EventLLMError) != 0 {
		t.Fatalf("expected one llm_complete and no llm_error, got %d/%d",
			emitter.count(EventLLMComplete), emitter.count(EventLLMError))
	}

	if len(sess.History()) != 2 {
		t.Fatalf("expected exchange recorded, history len=%d", len(sess.History()))
	}
}

func TestResponderFailureSkipsHistory(t *testing.T) {
	emitter := &fakeEmitter{}
	stream := newFakeSynthStream()
	svc := newTurnService(emitter, &fakeSynthDialer{stream: stream}, &fakeResponder{err: errors.New("model down")})
	sess := configuredSession(t, "turn-fail")

	svc.runTurn(sess, "hi")

	if emitter.count(EventLLMError) != 1 || emitter.count(EventLLMComplete) != 0 {
		t.Fatalf("expected one llm_error and no llm_complete, got %d/%d",
			emitter.count(EventLLMError), emitter.count(EventLLMComplete))
	}
	if len(sess.History()) != 0 {
		t.Fatalf("history must not grow on responder failure, len=%d", len(sess.History()))
	}
}

func TestMissingSynthesisKeysEmitsError(t *testing.T) {
	emitter := &fakeEmitter{}
	svc := newTurnService(emitter, &fakeSynthDialer{stream: newFakeSynthStream()}, &fakeResponder{reply: "hi"})
	sess := newTestSession(t, "turn-nokeys")
	sess.SetCredentials(voice.Credentials{AssemblyAI: "aai"})

	svc.runTurn(sess, "hi")

	if emitter.count(EventLLMError) != 1 {
		t.Fatalf("expected llm_error for missing keys, got %d", emitter.count(EventLLMError))
	}
	if len(sess.History()) != 0 {
		t.Fatal("no history expected when the turn never ran")
	}
}

func TestSynthDialFailureEmitsError(t *testing.T) {
	emitter := &fakeEmitter{}
	svc := newTurnService(emitter, &fakeSynthDialer{dialErr: errors.New("refused")}, &fakeResponder{reply: "hi"})
	sess := configuredSession(t, "turn-dialfail")

	svc.runTurn(sess, "hi")

	if emitter.count(EventLLMError) != 1 || emitter.count(EventLLMComplete) != 0 {
		t.Fatalf("expected one llm_error, got error=%d complete=%d",
			emitter.count(EventLLMError), emitter.count(EventLLMComplete))
	}
}

func TestJoinTimeoutEmitsError(t *testing.T) {
	emitter := &fakeEmitter{}
	stream := newFakeSynthStream()
	stream.silent = true
	svc := newTurnService(emitter, &fakeSynthDialer{stream: stream}, &fakeResponder{reply: "Slow reply."})
	svc.voiceCfg.JoinTimeout = 20 * time.Millisecond
	sess := configuredSession(t, "turn-jointimeout")

	svc.runTurn(sess, "hi")

	if emitter.count(EventLLMError) != 1 || emitter.count(EventLLMComplete) != 0 {
		t.Fatalf("expected llm_error on join timeout, got error=%d complete=%d",
			emitter.count(EventLLMError), emitter.count(EventLLMComplete))
	}
	// The reply text already reached the client, so the exchange still counts.
	if len(sess.History()) != 2 {
		t.Fatalf("expected exchange recorded despite synthesis timeout, len=%d", len(sess.History()))
	}
}

func TestSynthStreamFailureEmitsError(t *testing.T) {
	emitter := &fakeEmitter{}
	stream := newFakeSynthStream()
	stream.fail = errors.New("socket reset")
	svc := newTurnService(emitter, &fakeSynthDialer{stream: stream}, &fakeResponder{reply: "Short reply."})
	sess := configuredSession(t, "turn-streamfail")

	svc.runTurn(sess, "hi")

	if emitter.count(EventLLMError) != 1 || emitter.count(EventLLMComplete) != 0 {
		t.Fatalf("expected llm_error on stream failure, got error=%d complete=%d",
			emitter.count(EventLLMError), emitter.count(EventLLMComplete))
	}
}

func TestRapidTurnsAreSerialized(t *testing.T) {
	emitter := &fakeEmitter{}

	var mu sync.Mutex
	active := 0
	maxActive := 0
	responder := responderFunc(func(ctx context.Context, req *ReplyRequest) (string, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return "Done.", nil
	})

	svc := newTurnService(emitter, &serialSynthDialer{}, responder)
	sess := configuredSession(t, "turn-serial")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.runTurn(sess, "again")
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("turns overlapped: max concurrent=%d", maxActive)
	}
	if emitter.count(EventLLMComplete) != 3 {
		t.Fatalf("expected 3 completed turns, got %d", emitter.count(EventLLMComplete))
	}
}

type responderFunc func(ctx context.Context, req *ReplyRequest) (string, error)

func (f responderFunc) Reply(ctx context.Context, req *ReplyRequest) (string, error) {
	return f(ctx, req)
}

// serialSynthDialer hands out a fresh stream per turn.
type serialSynthDialer struct{}

func (d *serialSynthDialer) Open(ctx context.Context, apiKey, contextID string, voiceCfg tts.VoiceConfig) (SynthStream, error) {
	return newFakeSynthStream(), nil
}

// queuedSynthDialer hands out prepared streams in dial order.
type queuedSynthDialer struct {
	mu      sync.Mutex
	streams []*fakeSynthStream
}

func (d *queuedSynthDialer) Open(ctx context.Context, apiKey, contextID string, voiceCfg tts.VoiceConfig) (SynthStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

func TestAbandonedTurnAudioDoesNotLeakIntoNextTurn(t *testing.T) {
	gate := make(chan struct{})
	emitter := &gatedEmitter{gate: gate}

	first := newFakeSynthStream()
	first.audio = []string{"S1", "S2", "S3"}
	first.leaveOpen = true
	second := newFakeSynthStream()
	second.audio = []string{"T1"}
	dialer := &queuedSynthDialer{streams: []*fakeSynthStream{first, second}}

	svc := newTurnService(emitter, dialer, &fakeResponder{reply: "Slow reply."})
	svc.voiceCfg.JoinTimeout = 20 * time.Millisecond
	sess := configuredSession(t, "turn-stale")

	// The first turn times out with audio still buffered behind the gate.
	svc.runTurn(sess, "hi")
	if emitter.count(EventLLMError) != 1 {
		t.Fatalf("expected llm_error after join timeout, got %d", emitter.count(EventLLMError))
	}

	close(gate)
	svc.runTurn(sess, "again")

	waitFor(t, time.Second, func() bool {
		return emitter.count(EventLLMComplete) == 1
	})
	time.Sleep(50 * time.Millisecond)

	payloads := emitter.audioPayloads()
	for _, p := range payloads {
		if p == "S2" || p == "S3" {
			t.Fatalf("buffered audio from the abandoned turn leaked: %v", payloads)
		}
	}
	sawSecond := false
	for _, p := range payloads {
		if p == "T1" {
			sawSecond = true
		}
	}
	if !sawSecond {
		t.Fatalf("expected the follow-up turn's audio, got %v", payloads)
	}
}
