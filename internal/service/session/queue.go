package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrStreamEnded 表示读端遇到了结束哨兵。
	ErrStreamEnded = errors.New("audio stream ended")
	// ErrIdleTimeout 表示读端在空闲超时时间内未等到任何音频帧。
	ErrIdleTimeout = errors.New("audio queue idle timeout")
)

// AudioQueue 是会话内的音频帧队列：多生产者、单消费者、FIFO。
// Push 永不阻塞；队列无界，慢消费场景下这是一个已知的资源风险。
// nil 帧作为结束哨兵排在正常帧之后，读到哨兵即终止消费。
type AudioQueue struct {
	mu     sync.Mutex
	frames [][]byte
	ended  bool
	wake   chan struct{}
}

// NewAudioQueue 创建一个空的音频队列。
func NewAudioQueue() *AudioQueue {
	return &AudioQueue{
		wake: make(chan struct{}, 1),
	}
}

// Push 追加一帧音频，永不阻塞。哨兵入队后的帧会被直接丢弃。
func (q *AudioQueue) Push(frame []byte) {
	q.mu.Lock()
	if q.ended {
		q.mu.Unlock()
		return
	}
	q.frames = append(q.frames, frame)
	if frame == nil {
		q.ended = true
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PushSentinel 将结束哨兵入队，是停止消费端的唯一正规方式。
// 可重复调用，重复的哨兵会被忽略。
func (q *AudioQueue) PushSentinel() {
	q.Push(nil)
}

// Pull 阻塞直到取到一帧音频。读到哨兵返回 ErrStreamEnded；
// 超过 idle 时长没有任何帧到达则返回 ErrIdleTimeout。
func (q *AudioQueue) Pull(idle time.Duration) ([]byte, error) {
	deadline := time.NewTimer(idle)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			if frame == nil {
				return nil, ErrStreamEnded
			}
			return frame, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline.C:
			return nil, ErrIdleTimeout
		}
	}
}

// Len 返回当前排队的元素数量，含可能的哨兵。
func (q *AudioQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
