package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/model/chat"
	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
)

// ReplyRequest carries everything a single reply needs: the persona prompt,
// the trimmed history and the per-session credential snapshot.
type ReplyRequest struct {
	Session      *session.Session
	SystemPrompt string
	History      []chat.Message
	UserText     string
	Credentials  voice.Credentials
}

// Responder produces the assistant's full reply text for one turn.
type Responder interface {
	Reply(ctx context.Context, req *ReplyRequest) (string, error)
}

// ArkResponder 基于 eino + Ark 生成回复, 并在有限轮次内执行模型发起的工具调用
type ArkResponder struct {
	agentCfg config.AgentConfig
	voiceCfg config.VoiceConfig

	// newModel 按会话密钥构造模型实例, 默认走 Ark
	newModel func(ctx context.Context, apiKey string) (model.ChatModel, error)
}

// NewArkResponder 创建默认的回复生成器
func NewArkResponder(agentCfg config.AgentConfig, voiceCfg config.VoiceConfig) *ArkResponder {
	r := &ArkResponder{agentCfg: agentCfg, voiceCfg: voiceCfg}
	r.newModel = r.agentCfg.NewChatModel
	return r
}

// Reply runs the generate / tool-call loop until the model answers in plain
// text or the round limit is hit. Tool failures are folded back into the
// conversation as tool messages so the model can recover on its own.
func (r *ArkResponder) Reply(ctx context.Context, req *ReplyRequest) (string, error) {
	chatModel, err := r.newModel(ctx, req.Credentials.Ark)
	if err != nil {
		return "", fmt.Errorf("create chat model: %w", err)
	}

	toolbox := NewToolbox(r.voiceCfg, req.Credentials)
	if err := chatModel.BindTools(toolbox.Infos()); err != nil {
		return "", fmt.Errorf("bind tools: %w", err)
	}

	messages := []*schema.Message{schema.SystemMessage(req.SystemPrompt)}
	messages = append(messages, historyMessages(req.History, r.agentCfg.HistoryLimit)...)
	messages = append(messages, schema.UserMessage(req.UserText))

	for round := 0; round < r.agentCfg.MaxToolRounds; round++ {
		resp, err := chatModel.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("generate response: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, resp)
		for _, call := range resp.ToolCalls {
			log.Printf("[agent] tool call name=%s args=%s", call.Function.Name, call.Function.Arguments)
			output := toolbox.Invoke(ctx, req.Session, call.Function.Name, call.Function.Arguments)
			messages = append(messages, schema.ToolMessage(output, call.ID))
		}
	}

	return "", fmt.Errorf("model kept requesting tools after %d rounds", r.agentCfg.MaxToolRounds)
}

func historyMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
