package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/zhouzirui/vox-agent/backend/internal/service/agent"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
	"github.com/zhouzirui/vox-agent/backend/pkg/utils"
)

// Handler serves text-only turns over Server-Sent Events. It is the
// fallback transport for clients without audio capture; turns share the
// session's history with the voice path.
type Handler struct {
	registry *session.Registry
	agent    *agent.Service
}

// New creates a new stream handler
func New(registry *session.Registry, agentSvc *agent.Service) *Handler {
	return &Handler{
		registry: registry,
		agent:    agentSvc,
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest runs one text turn and streams reply sentences as SSE.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	sess, err := h.registry.Get(sessionID)
	if err != nil {
		utils.SetupSSEHeaders(w)
		h.sendSSEError(w, flusher, "session not found")
		return err
	}

	utils.SetupSSEHeaders(w)

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
	})

	reply, err := h.agent.TextTurn(ctx, sess, userMessage, func(sentence string) {
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   sentence,
		})
	})
	if err != nil {
		h.sendSSEError(w, flusher, fmt.Sprintf("generation failed: %v", err))
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   reply,
	})
	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	log.Printf("[stream] completed text turn session=%s chars=%d", sessionID, len(reply))
	return nil
}

// sendSSE sends a Server-Sent Event
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

// sendSSEError sends an error via Server-Sent Events
func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}
