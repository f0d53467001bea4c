package tts

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
)

// VoiceConfig 是合成连接首条配置消息携带的声音参数。
type VoiceConfig struct {
	VoiceID string `json:"voiceId"`
	Style   string `json:"style,omitempty"`
	Rate    int    `json:"rate,omitempty"`
}

// Chunk 是合成连接回传的一段结果；Audio 为 base64 的 WAV 音频。
type Chunk struct {
	Audio string
	Final bool
}

// Dialer 建立 Murf 流式合成连接。
type Dialer struct {
	cfg    config.VoiceConfig
	dialer *websocket.Dialer
}

// NewDialer 创建合成连接拨号器。
func NewDialer(cfg config.VoiceConfig) *Dialer {
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// murfServerMessage Murf stream-input 协议的服务端消息。
type murfServerMessage struct {
	ContextID string `json:"context_id,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Final     bool   `json:"final,omitempty"`
	Error     string `json:"error,omitempty"`
}

type murfTextMessage struct {
	ContextID string `json:"context_id"`
	Text      string `json:"text,omitempty"`
	End       bool   `json:"end,omitempty"`
}

type murfConfigMessage struct {
	ContextID   string      `json:"context_id"`
	VoiceConfig VoiceConfig `json:"voice_config"`
}

// Open 建立合成连接并发送首条配置消息。contextID 绑定本回合的
// 文本输入与音频输出，其他上下文的消息会被接收端过滤。
func (d *Dialer) Open(ctx context.Context, apiKey, contextID string, voice VoiceConfig) (*Stream, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("synthesis api key is empty")
	}

	wsURL, err := d.buildURL(apiKey)
	if err != nil {
		return nil, err
	}

	conn, _, err := d.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to synthesis service: %w", err)
	}

	stream := &Stream{
		conn:      conn,
		contextID: contextID,
		chunks:    make(chan Chunk, 16),
	}

	if err := stream.writeJSON(murfConfigMessage{ContextID: contextID, VoiceConfig: voice}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send voice config: %w", err)
	}

	go stream.readLoop()
	return stream, nil
}

// buildURL 携带密钥与音频参数拼接连接地址。
func (d *Dialer) buildURL(apiKey string) (string, error) {
	base, err := url.Parse(d.cfg.TTSBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid TTS base url: %w", err)
	}

	query := base.Query()
	query.Set("api-key", apiKey)
	query.Set("sample_rate", strconv.Itoa(d.cfg.TTSSampleRate))
	query.Set("channel_type", "MONO")
	query.Set("format", "WAV")
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// Stream 是一条活跃的合成连接：按回合上下文送文本、收音频。
type Stream struct {
	conn      *websocket.Conn
	contextID string
	chunks    chan Chunk

	writeMu sync.Mutex
	closed  bool

	errMu   sync.Mutex
	readErr error
}

// SendText 发送一句带上下文标记的合成文本。
func (s *Stream) SendText(text string) error {
	return s.writeJSON(murfTextMessage{ContextID: s.contextID, Text: text})
}

// End 发送输入结束标记，每回合恰好一次。
func (s *Stream) End() error {
	return s.writeJSON(murfTextMessage{ContextID: s.contextID, End: true})
}

// Chunks 返回本回合的音频块通道。收到 final 标记或连接出错后通道关闭，
// 关闭后应通过 Err 区分两种情况。
func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Err 返回读协程遇到的错误；正常收到 final 标记时为 nil。
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Close 关闭底层连接，可重复调用。
func (s *Stream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Stream) writeJSON(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("synthesis connection closed")
	}

	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("failed to write synthesis message: %w", err)
	}
	return nil
}

// readLoop 读取服务端消息，只转发匹配本回合上下文的音频，
// 遇到 final 标记即结束。上下文之间的乱序由厂商协议保证不会发生。
func (s *Stream) readLoop() {
	defer close(s.chunks)

	for {
		var msg murfServerMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.writeMu.Lock()
			wasClosed := s.closed
			s.writeMu.Unlock()
			if !wasClosed {
				s.setErr(fmt.Errorf("failed to read synthesis message: %w", err))
			}
			return
		}

		// Messages tagged with another turn's context never affect this
		// stream, errors included. Untagged errors are connection level.
		if msg.ContextID != "" && msg.ContextID != s.contextID {
			log.Printf("[tts] dropping message for foreign context %s", msg.ContextID)
			continue
		}

		if msg.Error != "" {
			s.setErr(fmt.Errorf("synthesis error: %s", msg.Error))
			return
		}

		if msg.Audio != "" {
			s.chunks <- Chunk{Audio: msg.Audio}
		}

		if msg.Final {
			s.chunks <- Chunk{Final: true}
			return
		}
	}
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	s.readErr = err
	s.errMu.Unlock()
}
