package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
)

// runTurn executes one full conversation turn under the session's turn lock.
// Credentials, persona prompt and voice are snapshotted up front so a
// mid-turn reconfiguration never changes a turn already in flight.
func (s *Service) runTurn(sess *session.Session, userText string) {
	sess.RunTurn(func() {
		ctx, cancel := context.WithTimeout(sess.Context(), s.voiceCfg.TurnTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[agent] turn panic session=%s: %v", sess.ID, r)
				s.emitter.Emit(sess.ID, EventLLMError, map[string]any{
					"error": "internal error while processing the turn",
				})
			}
		}()

		s.processTurn(ctx, sess, userText)
	})
}

// processTurn drives the reply pipeline: open the synthesis connection,
// generate the reply, feed it sentence by sentence to both the client and
// the synthesizer, then wait for the audio tail. Exactly one of
// llm_complete or llm_error is emitted per turn.
func (s *Service) processTurn(ctx context.Context, sess *session.Session, userText string) {
	creds := sess.Credentials()
	if !creds.HasSynthesis() {
		s.emitter.Emit(sess.ID, EventLLMError, map[string]any{
			"error": "Murf or Ark API key not configured for this session.",
		})
		return
	}

	contextID := uuid.NewString()
	stream, err := s.synth.Open(ctx, creds.Murf, contextID, s.voiceFor(sess))
	if err != nil {
		log.Printf("[agent] synthesis dial failed session=%s: %v", sess.ID, err)
		s.emitter.Emit(sess.ID, EventLLMError, map[string]any{
			"error": "Could not connect to the synthesis service.",
		})
		return
	}
	defer stream.Close()

	// Receiver half: forward audio until the final chunk or channel close.
	// Once the turn settles, stopped gates off any chunks still buffered so
	// a later turn never sees audio from this one.
	done := make(chan struct{})
	stopped := make(chan struct{})
	var stopOnce sync.Once
	stopReceiver := func() {
		stopOnce.Do(func() { close(stopped) })
	}
	defer stopReceiver()

	go func() {
		defer close(done)
		for chunk := range stream.Chunks() {
			select {
			case <-stopped:
				return
			default:
			}
			if chunk.Audio != "" {
				s.emitter.Emit(sess.ID, EventAudioChunk, chunk.Audio)
			}
			if chunk.Final {
				return
			}
		}
	}()

	req := &ReplyRequest{
		Session:      sess,
		SystemPrompt: persona.PromptFor(s.personas, sess.PersonaID()),
		History:      sess.History(),
		UserText:     userText,
		Credentials:  creds,
	}
	replyText, err := s.responder.Reply(ctx, req)
	if err != nil {
		log.Printf("[agent] reply failed session=%s: %v", sess.ID, err)
		stopReceiver()
		s.emitter.Emit(sess.ID, EventLLMError, map[string]any{
			"error": "Failed to generate a response.",
		})
		return
	}

	failure := ""
	for _, sentence := range SplitSentences(replyText) {
		s.emitter.Emit(sess.ID, EventLLMChunk, map[string]any{"text": sentence})
		if sendErr := stream.SendText(sentence); sendErr != nil {
			log.Printf("[agent] synthesis send failed session=%s: %v", sess.ID, sendErr)
			failure = "The synthesis stream rejected the response text."
			break
		}
	}
	if failure == "" {
		if endErr := stream.End(); endErr != nil {
			log.Printf("[agent] synthesis end failed session=%s: %v", sess.ID, endErr)
			failure = "The synthesis stream could not be finalized."
		}
	}

	if failure == "" {
		select {
		case <-done:
			if streamErr := stream.Err(); streamErr != nil {
				log.Printf("[agent] synthesis stream failed session=%s: %v", sess.ID, streamErr)
				failure = "The synthesis stream failed before finishing."
			}
		case <-time.After(s.voiceCfg.JoinTimeout):
			log.Printf("[agent] synthesis join timed out session=%s", sess.ID)
			failure = "Timed out waiting for synthesis to finish."
		case <-ctx.Done():
			failure = "The turn was cancelled before synthesis finished."
		}
	}

	stopReceiver()
	if failure != "" {
		s.emitter.Emit(sess.ID, EventLLMError, map[string]any{"error": failure})
	} else {
		s.emitter.Emit(sess.ID, EventLLMComplete, nil)
	}

	// The exchange is recorded whenever a reply was produced, even if
	// synthesis later failed; the text already reached the client.
	sess.AppendExchange(userText, replyText)
	log.Printf("[agent] turn finished session=%s chars=%d ok=%t", sess.ID, len(replyText), failure == "")
}
