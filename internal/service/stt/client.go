package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
)

// Dialer 建立 AssemblyAI 流式识别连接。
type Dialer struct {
	cfg    config.VoiceConfig
	dialer *websocket.Dialer
}

// NewDialer 创建识别连接拨号器。
func NewDialer(cfg config.VoiceConfig) *Dialer {
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// sttServerMessage AssemblyAI v3 流式协议的服务端消息。
type sttServerMessage struct {
	Type             string  `json:"type"`
	ID               string  `json:"id,omitempty"`
	Transcript       string  `json:"transcript,omitempty"`
	EndOfTurn        bool    `json:"end_of_turn,omitempty"`
	TurnIsFormatted  bool    `json:"turn_is_formatted,omitempty"`
	TurnOrder        int     `json:"turn_order,omitempty"`
	AudioDurationSec float64 `json:"audio_duration_seconds,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Dial 携带密钥建立识别连接并启动读协程，事件通过 handler 回调。
// 密钥缺失或握手失败立即返回错误，由上层转成会话的配置错误。
func (d *Dialer) Dial(ctx context.Context, apiKey string, handler Handler) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transcription api key is empty")
	}

	wsURL, err := d.buildURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to transcription service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to transcription service: %w", err)
	}

	client := &Client{conn: conn, handler: handler}
	go client.readLoop()
	return client, nil
}

// buildURL 拼接采样率、分轮格式化与静音判停参数。
func (d *Dialer) buildURL() (string, error) {
	base, err := url.Parse(d.cfg.STTBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid STT base url: %w", err)
	}

	query := base.Query()
	query.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	query.Set("format_turns", "true")
	query.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(d.cfg.TurnSilenceMs))
	base.RawQuery = query.Encode()

	return base.String(), nil
}

// Client 包装一条活跃的流式识别连接：音频帧进、内部事件出。
type Client struct {
	conn    *websocket.Conn
	handler Handler

	writeMu sync.Mutex
	closed  bool
}

// SendAudio 将一帧 PCM 音频写入识别连接。
func (c *Client) SendAudio(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return fmt.Errorf("transcription connection closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("failed to send audio frame: %w", err)
	}
	return nil
}

// Close 发送终止消息并关闭连接，可重复调用。
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		log.Printf("[stt] terminate message failed: %v", err)
	}
	return c.conn.Close()
}

// readLoop 翻译服务端消息为内部事件。任何读错误都视为连接失效，
// 不做自动重连，由会话重新配置后建立新连接。
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.writeMu.Lock()
			wasClosed := c.closed
			c.closed = true
			c.writeMu.Unlock()

			if wasClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.handler(Event{Kind: Closed})
			} else {
				c.handler(Event{Kind: Failed, Err: err})
			}
			return
		}

		var msg sttServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[stt] failed to unmarshal server message: %v", err)
			continue
		}

		switch msg.Type {
		case "Begin":
			c.handler(Event{Kind: Opened})
		case "Turn":
			if msg.EndOfTurn {
				c.handler(Event{Kind: Final, Text: msg.Transcript})
			} else {
				c.handler(Event{Kind: Partial, Text: msg.Transcript})
			}
		case "Termination":
			c.handler(Event{Kind: Closed})
			return
		case "Error":
			c.handler(Event{Kind: Failed, Err: fmt.Errorf("transcription error: %s", msg.Error)})
		default:
			// 未知消息类型直接忽略
		}
	}
}
