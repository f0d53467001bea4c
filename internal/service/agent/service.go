package agent

import (
	"context"
	"errors"
	"log"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
	"github.com/zhouzirui/vox-agent/backend/internal/service/stt"
	"github.com/zhouzirui/vox-agent/backend/internal/service/tts"
)

// Event names pushed to the client over the session connection.
const (
	EventTranscriptPartial  = "transcript_partial"
	EventTurnEnded          = "turn_ended"
	EventLLMChunk           = "llm_chunk"
	EventAudioChunk         = "audio_chunk"
	EventLLMComplete        = "llm_complete"
	EventLLMError           = "llm_error"
	EventConfigError        = "config_error"
	EventTranscriptionError = "transcription_error"
)

// Emitter delivers a named event to whatever connection currently serves the
// session. Implementations must be safe to call from any goroutine and must
// treat an unknown session as a no-op.
type Emitter interface {
	Emit(sessionID, event string, payload any)
}

// RecognizerDialer opens a live transcription connection for a session.
type RecognizerDialer interface {
	Dial(ctx context.Context, apiKey string, handler stt.Handler) (session.Recognizer, error)
}

// SynthStream is the per-turn synthesis connection the orchestrator writes
// sentences to and reads audio chunks from.
type SynthStream interface {
	SendText(text string) error
	End() error
	Chunks() <-chan tts.Chunk
	Err() error
	Close() error
}

// SynthDialer opens a synthesis connection scoped to one turn's context ID.
type SynthDialer interface {
	Open(ctx context.Context, apiKey, contextID string, voice tts.VoiceConfig) (SynthStream, error)
}

// Service 串联整条语音回路: 音频队列 → 转写 → 回合编排 → 合成
type Service struct {
	agentCfg  config.AgentConfig
	voiceCfg  config.VoiceConfig
	personas  persona.Store
	emitter   Emitter
	stt       RecognizerDialer
	synth     SynthDialer
	responder Responder
}

// New 以显式依赖创建服务, 便于替换外部连接
func New(agentCfg config.AgentConfig, voiceCfg config.VoiceConfig, personas persona.Store, emitter Emitter, sttDialer RecognizerDialer, synthDialer SynthDialer, responder Responder) *Service {
	return &Service{
		agentCfg:  agentCfg,
		voiceCfg:  voiceCfg,
		personas:  personas,
		emitter:   emitter,
		stt:       sttDialer,
		synth:     synthDialer,
		responder: responder,
	}
}

// NewService 创建接入真实外部服务的默认实例
func NewService(agentCfg config.AgentConfig, voiceCfg config.VoiceConfig, personas persona.Store, emitter Emitter) *Service {
	return New(
		agentCfg,
		voiceCfg,
		personas,
		emitter,
		&sttDialer{inner: stt.NewDialer(voiceCfg)},
		&synthDialer{inner: tts.NewDialer(voiceCfg)},
		NewArkResponder(agentCfg, voiceCfg),
	)
}

type sttDialer struct {
	inner *stt.Dialer
}

func (d *sttDialer) Dial(ctx context.Context, apiKey string, handler stt.Handler) (session.Recognizer, error) {
	return d.inner.Dial(ctx, apiKey, handler)
}

type synthDialer struct {
	inner *tts.Dialer
}

func (d *synthDialer) Open(ctx context.Context, apiKey, contextID string, voice tts.VoiceConfig) (SynthStream, error) {
	return d.inner.Open(ctx, apiKey, contextID, voice)
}

// StartSession launches the audio pump for a freshly created session. The
// pump owns the queue's consumer side for the session's whole lifetime.
func (s *Service) StartSession(sess *session.Session) {
	log.Printf("[agent] session started id=%s", sess.ID)
	go s.pump(sess)
}

// pump drains the session queue and forwards frames to whichever recognizer
// is currently attached. Frames arriving before credentials are configured
// have no recognizer yet and are dropped.
func (s *Service) pump(sess *session.Session) {
	for {
		frame, err := sess.Queue().Pull(s.voiceCfg.QueueIdleTimeout)
		switch {
		case err == nil:
			rec := sess.Recognizer()
			if rec == nil {
				continue
			}
			if sendErr := rec.SendAudio(frame); sendErr != nil {
				log.Printf("[agent] audio forward failed session=%s: %v", sess.ID, sendErr)
			}
		case errors.Is(err, session.ErrStreamEnded):
			log.Printf("[agent] audio stream ended session=%s", sess.ID)
			return
		case errors.Is(err, session.ErrIdleTimeout):
			log.Printf("[agent] audio stream abandoned session=%s", sess.ID)
			return
		default:
			log.Printf("[agent] audio pump stopped session=%s: %v", sess.ID, err)
			return
		}
	}
}

// Configure applies a credential snapshot to the session and (re)opens the
// transcription connection with the new keys. In-flight turns keep the
// snapshot they started with.
func (s *Service) Configure(sess *session.Session, creds voice.Credentials) {
	creds = creds.Normalize()
	sess.SetCredentials(creds)

	if !creds.HasTranscription() {
		s.emitter.Emit(sess.ID, EventConfigError, map[string]any{
			"message": "AssemblyAI API key not configured for this session.",
		})
		return
	}

	agg := newAggregator(s, sess)
	rec, err := s.stt.Dial(sess.Context(), creds.AssemblyAI, agg.Handle)
	if err != nil {
		log.Printf("[agent] transcription dial failed session=%s: %v", sess.ID, err)
		s.emitter.Emit(sess.ID, EventConfigError, map[string]any{
			"message": "Could not connect to the transcription service.",
		})
		return
	}

	sess.SetRecognizer(rec)
	log.Printf("[agent] session configured id=%s", sess.ID)
}

// SetPersona switches the active persona for subsequent turns.
func (s *Service) SetPersona(sess *session.Session, personaID string) bool {
	if _, ok := s.personas.FindByID(personaID); !ok {
		return false
	}
	sess.SetPersonaID(personaID)
	log.Printf("[agent] persona changed session=%s persona=%s", sess.ID, personaID)
	return true
}

// EndSession tears the session down: sentinel into the queue, recognizer
// closed, session context cancelled. Safe to call more than once.
func (s *Service) EndSession(sess *session.Session) {
	sess.Close()
	log.Printf("[agent] session ended id=%s", sess.ID)
}

// TextTurn runs a text-only turn without synthesis, streaming reply
// sentences through sink. Used by the SSE fallback transport.
func (s *Service) TextTurn(ctx context.Context, sess *session.Session, userText string, sink func(sentence string)) (string, error) {
	var reply string
	var err error

	sess.RunTurn(func() {
		req := &ReplyRequest{
			Session:      sess,
			SystemPrompt: persona.PromptFor(s.personas, sess.PersonaID()),
			History:      sess.History(),
			UserText:     userText,
			Credentials:  sess.Credentials(),
		}
		reply, err = s.responder.Reply(ctx, req)
		if err != nil {
			return
		}
		for _, sentence := range SplitSentences(reply) {
			sink(sentence)
		}
		sess.AppendExchange(userText, reply)
	})

	return reply, err
}

// voiceFor resolves the synthesis voice for the session's current persona.
func (s *Service) voiceFor(sess *session.Session) tts.VoiceConfig {
	voiceID := s.voiceCfg.VoiceID
	if p, ok := s.personas.FindByID(sess.PersonaID()); ok && p.VoiceID != "" {
		voiceID = p.VoiceID
	}
	return tts.VoiceConfig{
		VoiceID: voiceID,
		Style:   s.voiceCfg.VoiceStyle,
		Rate:    s.voiceCfg.VoiceRate,
	}
}
