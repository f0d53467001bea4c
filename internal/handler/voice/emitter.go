package voice

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connWriter 序列化单条连接上的并发写入
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeJSON(payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(payload)
}

// Emitter 维护会话到连接的映射, 把事件推送给当前服务该会话的连接
type Emitter struct {
	mu    sync.RWMutex
	conns map[string]*connWriter
}

// NewEmitter 创建空的事件推送器
func NewEmitter() *Emitter {
	return &Emitter{conns: make(map[string]*connWriter)}
}

// Bind 把连接登记到会话名下, 替换掉之前的连接
func (e *Emitter) Bind(sessionID string, conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[sessionID] = &connWriter{conn: conn}
}

// TryBind 仅在会话尚无连接时登记, 已有连接则返回 false
func (e *Emitter) TryBind(sessionID string, conn *websocket.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[sessionID]; ok {
		return false
	}
	e.conns[sessionID] = &connWriter{conn: conn}
	return true
}

// Bound 报告会话当前是否有连接在服务
func (e *Emitter) Bound(sessionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.conns[sessionID]
	return ok
}

// Release 解除会话的连接登记
func (e *Emitter) Release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, sessionID)
}

// Ping 向会话连接发送一次心跳, 无连接或写失败时返回错误
func (e *Emitter) Ping(sessionID string) error {
	e.mu.RLock()
	writer, ok := e.conns[sessionID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no connection for session %s", sessionID)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	writer.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return writer.conn.WriteMessage(websocket.PingMessage, nil)
}

// Emit 向会话推送一条事件, 会话不存在时静默丢弃
func (e *Emitter) Emit(sessionID, event string, payload any) {
	e.mu.RLock()
	writer, ok := e.conns[sessionID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	msg := outgoingMessage{
		Type:      event,
		SessionID: sessionID,
		Data:      payload,
		Timestamp: time.Now().Unix(),
	}
	if err := writer.writeJSON(msg); err != nil {
		log.Printf("[voice] emit %s failed session=%s: %v", event, sessionID, err)
	}
}
