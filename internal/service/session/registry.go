package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSessionExists 表示重复创建同一会话，属于调用方的逻辑错误。
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound 表示会话不存在或已被移除。
	ErrSessionNotFound = errors.New("session not found")
)

// Registry 维护会话标识到会话状态的映射，供传输层与后台任务并发访问。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry 创建空的会话注册表。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create 为新连接插入会话，id 已存在时报错。
func (r *Registry) Create(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	sess := newSession(id)
	r.sessions[id] = sess
	return sess, nil
}

// Get 按标识查找会话。
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove 删除并返回会话供拆除使用；会话不存在时为空操作。
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return sess, true
}

// Len 返回当前活跃会话数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
