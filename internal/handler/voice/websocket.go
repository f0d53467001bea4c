package voice

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	voicemodel "github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/agent"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
)

const (
	// pingInterval 心跳间隔, 要小于 readTimeout
	pingInterval = 54 * time.Second
	// readTimeout 读超时, 由消息与 pong 续期
	readTimeout = 60 * time.Second
)

// Handler WebSocket语音会话处理器
type Handler struct {
	registry *session.Registry
	agent    *agent.Service
	emitter  *Emitter
	defaults voicemodel.Credentials
	upgrader websocket.Upgrader

	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler 创建语音会话处理器, defaults 为服务端自带的默认密钥
func NewHandler(registry *session.Registry, agentSvc *agent.Service, emitter *Emitter, defaults voicemodel.Credentials) *Handler {
	return &Handler{
		registry: registry,
		agent:    agentSvc,
		emitter:  emitter,
		defaults: defaults.Normalize(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type personaChange struct {
	PersonaID string `json:"personaId"`
}

// handleWebSocket 处理一条语音会话连接的完整生命周期。
// 预先通过 REST 建好的会话只要还没有连接在服务, 就会被这条连接接管。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	created := false
	sess, err := h.registry.Get(sessionID)
	if err != nil {
		sess, err = h.registry.Create(sessionID)
		if err != nil {
			http.Error(w, "session already exists", http.StatusConflict)
			return
		}
		created = true
	} else if h.emitter.Bound(sessionID) {
		http.Error(w, "session already connected", http.StatusConflict)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[voice] upgrade failed: %v", err)
		if created {
			h.registry.Remove(sessionID)
		}
		return
	}

	if !h.emitter.TryBind(sessionID, conn) {
		// Another connection claimed the session between Get and the upgrade.
		log.Printf("[voice] session %s claimed by a concurrent connection", sessionID)
		conn.Close()
		if created {
			h.registry.Remove(sessionID)
		}
		return
	}

	log.Printf("[voice] new connection session=%s adopted=%t", sessionID, !created)

	h.agent.StartSession(sess)

	defer func() {
		h.agent.EndSession(sess)
		h.emitter.Release(sessionID)
		h.registry.Remove(sessionID)
		conn.Close()
		log.Printf("[voice] connection closed session=%s", sessionID)
	}()

	h.emitter.Emit(sessionID, "connected", map[string]any{
		"sessionId": sessionID,
	})

	// Sessions backed by server-side keys are usable straight away; the
	// client can still override them with configure_keys later.
	if h.defaults.Complete() {
		h.agent.Configure(sess, h.defaults)
	}

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})
	go h.pingLoop(sess, sessionID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[voice] read error session=%s: %v", sessionID, err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			sess.Queue().Push(data)
		case websocket.TextMessage:
			h.handleControlMessage(sess, data)
		}
	}
}

// pingLoop 定期发送心跳, 防止空闲连接被中间设备断开
func (h *Handler) pingLoop(sess *session.Session, sessionID string) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Context().Done():
			return
		case <-ticker.C:
			if err := h.emitter.Ping(sessionID); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleControlMessage(sess *session.Session, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(sess.ID, "invalid message payload")
		return
	}

	switch msg.Type {
	case "configure_keys":
		var creds voicemodel.Credentials
		if err := json.Unmarshal(msg.Data, &creds); err != nil {
			h.sendError(sess.ID, "invalid credentials payload")
			return
		}
		h.agent.Configure(sess, creds)

	case "persona_change":
		var change personaChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			h.sendError(sess.ID, "invalid persona payload")
			return
		}
		if !h.agent.SetPersona(sess, change.PersonaID) {
			h.sendError(sess.ID, "unknown persona: "+change.PersonaID)
		}

	default:
		h.sendError(sess.ID, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) sendError(sessionID, message string) {
	h.emitter.Emit(sessionID, "error", map[string]string{"message": message})
}
