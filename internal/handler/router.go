package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/zhouzirui/vox-agent/backend/internal/handler/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/handler/stream"
	"github.com/zhouzirui/vox-agent/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/vox-agent/backend/internal/middleware"
	personaModel "github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	voiceModel "github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/agent"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
	"github.com/zhouzirui/vox-agent/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, registry *session.Registry, agentSvc *agent.Service, emitter *voice.Emitter, defaults voiceModel.Credentials) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	personaHandler := persona.New(personas)
	voiceHandler := voice.NewHandler(registry, agentSvc, emitter, defaults)
	streamHandler := stream.New(registry, agentSvc)
	defaults = defaults.Normalize()

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		voiceHandler.RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": registry.Len(),
				"keys": map[string]bool{
					"assemblyai": defaults.AssemblyAI != "",
					"ark":        defaults.Ark != "",
					"murf":       defaults.Murf != "",
					"tavily":     defaults.Tavily != "",
					"gnews":      defaults.GNews != "",
				},
			})
		})

		// Provisions a session ahead of the WebSocket dial, optionally bound
		// to a persona. Until a connection adopts it the session also serves
		// text-only turns over /stream.
		api.Post("/session", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				PersonaID string `json:"personaId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
				utils.RespondError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			sessionID := uuid.NewString()
			sess, err := registry.Create(sessionID)
			if err != nil {
				utils.RespondError(w, http.StatusInternalServerError, "could not create session")
				return
			}
			if body.PersonaID != "" && !agentSvc.SetPersona(sess, body.PersonaID) {
				registry.Remove(sessionID)
				utils.RespondError(w, http.StatusBadRequest, "unknown persona: "+body.PersonaID)
				return
			}
			sess.SetCredentials(defaults)
			utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": sessionID})
		})

		// Teardown for sessions that never get adopted by a connection.
		api.Delete("/session/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			sess, ok := registry.Remove(sessionID)
			if !ok {
				utils.RespondError(w, http.StatusNotFound, "session not found")
				return
			}
			sess.Close()
			utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
		})

		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}
