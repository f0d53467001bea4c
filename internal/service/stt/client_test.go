package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (s *eventSink) waitFor(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.events)
		s.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %v", want, s.kinds())
}

func testVoiceConfig(serverURL string) config.VoiceConfig {
	return config.VoiceConfig{
		STTBaseURL:       "ws" + strings.TrimPrefix(serverURL, "http"),
		SampleRate:       16000,
		TurnSilenceMs:    700,
		HandshakeTimeout: time.Second,
	}
}

func TestDialRequiresAPIKey(t *testing.T) {
	d := NewDialer(testVoiceConfig("http://localhost:0"))
	if _, err := d.Dial(context.Background(), "", func(Event) {}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestDialSendsAuthAndStreamParams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	gotQuery := make(chan map[string]string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		gotQuery <- map[string]string{
			"sample_rate":  r.URL.Query().Get("sample_rate"),
			"format_turns": r.URL.Query().Get("format_turns"),
			"silence":      r.URL.Query().Get("min_end_of_turn_silence_when_confident"),
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"type": "Begin", "id": "sess"})
		conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello", "end_of_turn": false})
		conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello world", "end_of_turn": true})
		conn.WriteJSON(map[string]any{"type": "Termination"})
	}))
	defer srv.Close()

	sink := &eventSink{}
	d := NewDialer(testVoiceConfig(srv.URL))
	client, err := d.Dial(context.Background(), "secret-key", sink.handle)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	if auth := <-gotAuth; auth != "secret-key" {
		t.Fatalf("expected Authorization header, got %q", auth)
	}
	query := <-gotQuery
	if query["sample_rate"] != "16000" || query["format_turns"] != "true" || query["silence"] != "700" {
		t.Fatalf("unexpected query params: %v", query)
	}

	sink.waitFor(t, 4)
	kinds := sink.kinds()
	want := []EventKind{Opened, Partial, Final, Closed}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected kind %d, got %d (%v)", i, k, kinds[i], kinds)
		}
	}

	sink.mu.Lock()
	finalText := sink.events[2].Text
	sink.mu.Unlock()
	if finalText != "hello world" {
		t.Fatalf("unexpected final transcript %q", finalText)
	}
}

func TestSendAudioAndTerminate(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan []byte, 1)
	terminated := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				frames <- data
			case websocket.TextMessage:
				var msg map[string]string
				if json.Unmarshal(data, &msg) == nil && msg["type"] == "Terminate" {
					close(terminated)
					return
				}
			}
		}
	}))
	defer srv.Close()

	sink := &eventSink{}
	d := NewDialer(testVoiceConfig(srv.URL))
	client, err := d.Dial(context.Background(), "secret-key", sink.handle)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if err := client.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send audio failed: %v", err)
	}
	select {
	case frame := <-frames:
		if len(frame) != 3 {
			t.Fatalf("unexpected frame %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the audio frame")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("server never received the Terminate message")
	}

	// Close is idempotent and SendAudio must fail afterwards.
	if err := client.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := client.SendAudio([]byte{4}); err == nil {
		t.Fatal("expected error sending on a closed connection")
	}
}

func TestServerErrorMessageBecomesFailedEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"type": "Error", "error": "bad audio"})
		conn.WriteJSON(map[string]any{"type": "Termination"})
	}))
	defer srv.Close()

	sink := &eventSink{}
	d := NewDialer(testVoiceConfig(srv.URL))
	client, err := d.Dial(context.Background(), "secret-key", sink.handle)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	sink.waitFor(t, 2)
	kinds := sink.kinds()
	if kinds[0] != Failed || kinds[1] != Closed {
		t.Fatalf("expected Failed then Closed, got %v", kinds)
	}
}
