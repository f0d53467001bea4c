package agent

import (
	"log"
	"strings"

	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
	"github.com/zhouzirui/vox-agent/backend/internal/service/stt"
)

// aggregator consumes transcription events for one recognizer connection.
// Partials are relayed as-is; an end-of-turn transcript hands off to turn
// processing. The handoff is fire-and-forget so the event stream is never
// blocked behind a slow turn, while the session's turn lock keeps rapid
// consecutive finals serialized.
type aggregator struct {
	svc  *Service
	sess *session.Session
}

func newAggregator(svc *Service, sess *session.Session) *aggregator {
	return &aggregator{svc: svc, sess: sess}
}

// Handle 处理一条转写事件, 在转写连接的读协程上运行
func (a *aggregator) Handle(ev stt.Event) {
	switch ev.Kind {
	case stt.Opened:
		log.Printf("[agent] transcription opened session=%s", a.sess.ID)

	case stt.Partial:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		a.svc.emitter.Emit(a.sess.ID, EventTranscriptPartial, map[string]any{
			"transcript": text,
		})

	case stt.Final:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		a.svc.emitter.Emit(a.sess.ID, EventTurnEnded, map[string]any{
			"final_transcript": text,
		})
		go a.svc.runTurn(a.sess, text)

	case stt.Failed:
		log.Printf("[agent] transcription error session=%s: %v", a.sess.ID, ev.Err)
		a.svc.emitter.Emit(a.sess.ID, EventTranscriptionError, map[string]any{
			"error": "The transcription stream reported an error.",
		})

	case stt.Closed:
		log.Printf("[agent] transcription closed session=%s", a.sess.ID)
	}
}
