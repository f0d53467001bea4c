package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Agent  AgentConfig
	Voice  VoiceConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	voiceCfg, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Agent: agent, Voice: voiceCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AgentConfig 描述回复生成（大模型）相关配置。
type AgentConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	Region        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	MaxToolRounds int
	HistoryLimit  int
}

// Enabled 表示服务端是否自带可用的模型配置。
func (c AgentConfig) Enabled() bool {
	return c.Model != "" && c.APIKey != ""
}

// NewChatModel 使用配置创建一个模型实例。apiKey 为会话快照中的密钥，
// 为空时回退到服务端默认密钥。
func (c AgentConfig) NewChatModel(ctx context.Context, apiKey string) (model.ChatModel, error) {
	if apiKey == "" {
		apiKey = c.APIKey
	}
	if apiKey == "" || c.Model == "" {
		return nil, fmt.Errorf("ark credentials missing: provide an API key and ARK_MODEL")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      apiKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAgentConfig() (AgentConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AgentConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AgentConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AgentConfig{}, err
	}

	toolRounds := 5
	if override, err := parseOptionalIntEnv("AGENT_MAX_TOOL_ROUNDS"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		toolRounds = *override
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("AGENT_HISTORY_LIMIT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	return AgentConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		Model:         strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		MaxToolRounds: toolRounds,
		HistoryLimit:  historyLimit,
	}, nil
}

// VoiceConfig 描述实时语音链路相关配置。
type VoiceConfig struct {
	// 服务端默认密钥，齐全时新会话在连接后立即可用。
	AssemblyAIKey string
	MurfKey       string
	TavilyKey     string
	GNewsKey      string

	// 语音识别
	STTBaseURL       string
	SampleRate       int
	TurnSilenceMs    int
	HandshakeTimeout time.Duration

	// 语音合成
	TTSBaseURL    string
	TTSSampleRate int
	VoiceID       string
	VoiceStyle    string
	VoiceRate     int

	// 管线超时
	QueueIdleTimeout time.Duration
	JoinTimeout      time.Duration
	TurnTimeout      time.Duration

	// 外部查询工具
	TavilyBaseURL string
	GNewsBaseURL  string
}

// DefaultCredentials 返回由服务端环境变量提供的默认密钥集。
func (c VoiceConfig) DefaultCredentials(agent AgentConfig) voice.Credentials {
	return voice.Credentials{
		AssemblyAI: c.AssemblyAIKey,
		Ark:        agent.APIKey,
		Murf:       c.MurfKey,
		Tavily:     c.TavilyKey,
		GNews:      c.GNewsKey,
	}
}

func loadVoiceConfig() (VoiceConfig, error) {
	silence := 700
	if override, err := parseOptionalIntEnv("VOICE_TURN_SILENCE_MS"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil && *override > 0 {
		silence = *override
	}

	idleTimeout, err := parseDurationEnv("VOICE_QUEUE_IDLE_TIMEOUT", 30*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	joinTimeout, err := parseDurationEnv("VOICE_JOIN_TIMEOUT", 20*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	turnTimeout, err := parseDurationEnv("VOICE_TURN_TIMEOUT", 90*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	voiceRate := -5
	if override, err := parseOptionalIntEnv("VOICE_TTS_RATE"); err != nil {
		return VoiceConfig{}, err
	} else if override != nil {
		voiceRate = *override
	}

	return VoiceConfig{
		AssemblyAIKey:    strings.TrimSpace(os.Getenv("ASSEMBLYAI_API_KEY")),
		MurfKey:          strings.TrimSpace(os.Getenv("MURF_API_KEY")),
		TavilyKey:        strings.TrimSpace(os.Getenv("TAVILY_API_KEY")),
		GNewsKey:         strings.TrimSpace(os.Getenv("GNEWS_API_KEY")),
		STTBaseURL:       getEnvOrDefault("VOICE_STT_URL", "wss://streaming.assemblyai.com/v3/ws"),
		SampleRate:       16000,
		TurnSilenceMs:    silence,
		HandshakeTimeout: 10 * time.Second,
		TTSBaseURL:       getEnvOrDefault("VOICE_TTS_URL", "wss://api.murf.ai/v1/speech/stream-input"),
		TTSSampleRate:    44100,
		VoiceID:          getEnvOrDefault("VOICE_TTS_VOICE", "en-US-amara"),
		VoiceStyle:       getEnvOrDefault("VOICE_TTS_STYLE", "Conversational"),
		VoiceRate:        voiceRate,
		QueueIdleTimeout: idleTimeout,
		JoinTimeout:      joinTimeout,
		TurnTimeout:      turnTimeout,
		TavilyBaseURL:    getEnvOrDefault("TAVILY_BASE_URL", "https://api.tavily.com"),
		GNewsBaseURL:     getEnvOrDefault("GNEWS_BASE_URL", "https://gnews.io/api/v4"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
