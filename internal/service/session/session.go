package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/vox-agent/backend/internal/model/chat"
	"github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
)

// Recognizer is the session's handle on a live transcription connection.
// It is nil until credentials arrive and considered dead after a failure
// until the session is reconfigured.
type Recognizer interface {
	SendAudio(frame []byte) error
	Close() error
}

// Session holds all per-connection state: the audio queue feeding the
// transcription worker, the conversation history replayed to the response
// engine, the scratch to-do list mutated by tool calls, and the credential
// set the three external services are driven with.
type Session struct {
	ID string

	queue *AudioQueue

	ctx    context.Context
	cancel context.CancelFunc

	// turnMu serializes orchestrator runs for this session; a new final
	// turn can be dispatched before the previous reply finishes.
	turnMu sync.Mutex

	mu         sync.RWMutex
	personaID  string
	history    []chat.Message
	todos      []string
	creds      voice.Credentials
	recognizer Recognizer

	closeOnce sync.Once
}

func newSession(id string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		queue:     NewAudioQueue(),
		ctx:       ctx,
		cancel:    cancel,
		personaID: persona.DefaultID,
		history:   make([]chat.Message, 0, 16),
	}
}

// Queue returns the session's audio ingestion queue. The queue lives for
// exactly the session's lifetime.
func (s *Session) Queue() *AudioQueue {
	return s.queue
}

// Context is cancelled when the session is torn down; turn processing and
// vendor connections are scoped to it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// RunTurn executes fn under the session's turn lock so orchestrator runs
// for this session happen one at a time, in dispatch order.
func (s *Session) RunTurn(fn func()) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	fn()
}

// PersonaID returns the active persona identifier.
func (s *Session) PersonaID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personaID
}

// SetPersonaID swaps the active persona.
func (s *Session) SetPersonaID(id string) {
	s.mu.Lock()
	s.personaID = id
	s.mu.Unlock()
}

// Credentials returns a snapshot of the session's current credential set.
func (s *Session) Credentials() voice.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials replaces the session's credential set. In-flight turns keep
// the snapshot taken at dispatch time.
func (s *Session) SetCredentials(creds voice.Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
}

// Recognizer returns the live transcription connection, or nil.
func (s *Session) Recognizer() Recognizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recognizer
}

// SetRecognizer installs a new transcription connection, closing the previous
// one so at most one is live per session.
func (s *Session) SetRecognizer(rec Recognizer) {
	s.mu.Lock()
	old := s.recognizer
	s.recognizer = rec
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// History returns a copy of the conversation history in insertion order.
func (s *Session) History() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]chat.Message, len(s.history))
	copy(copied, s.history)
	return copied
}

// AppendExchange records one completed turn: the user's utterance and the
// assistant's final response text.
func (s *Session) AppendExchange(userText, responseText string) {
	now := time.Now().UTC()
	s.mu.Lock()
	s.history = append(s.history,
		chat.Message{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			Sender:    chat.SenderUser,
			Content:   userText,
			CreatedAt: now,
		},
		chat.Message{
			ID:        uuid.NewString(),
			SessionID: s.ID,
			Sender:    chat.SenderAssistant,
			Content:   responseText,
			CreatedAt: now,
		},
	)
	s.mu.Unlock()
}

// AddTodo appends an item to the session-scoped to-do list.
func (s *Session) AddTodo(item string) {
	s.mu.Lock()
	s.todos = append(s.todos, item)
	s.mu.Unlock()
}

// Todos returns a copy of the session's to-do list.
func (s *Session) Todos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]string, len(s.todos))
	copy(copied, s.todos)
	return copied
}

// Close tears the session down: the sentinel unblocks the queue reader, the
// transcription connection is released, and in-flight turn processing is
// cancelled. Idempotent, and safe when no recognizer was ever opened.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.queue.PushSentinel()
		if rec := s.Recognizer(); rec != nil {
			_ = rec.Close()
		}
		s.cancel()
	})
}
