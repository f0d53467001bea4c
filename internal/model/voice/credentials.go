package voice

import "strings"

// Credentials 保存一个会话使用的外部服务密钥，随 configure_keys 下发。
// 派发回合时会对其做快照，重新配置不会影响进行中的回合。
type Credentials struct {
	AssemblyAI string `json:"assemblyai"`
	Ark        string `json:"ark"`
	Murf       string `json:"murf"`
	Tavily     string `json:"tavily,omitempty"`
	GNews      string `json:"gnews,omitempty"`
}

// Normalize 去除各密钥的首尾空白。
func (c Credentials) Normalize() Credentials {
	return Credentials{
		AssemblyAI: strings.TrimSpace(c.AssemblyAI),
		Ark:        strings.TrimSpace(c.Ark),
		Murf:       strings.TrimSpace(c.Murf),
		Tavily:     strings.TrimSpace(c.Tavily),
		GNews:      strings.TrimSpace(c.GNews),
	}
}

// HasTranscription 表示是否可以建立语音识别连接。
func (c Credentials) HasTranscription() bool {
	return c.AssemblyAI != ""
}

// HasSynthesis 表示是否可以完成回复生成与语音合成。
func (c Credentials) HasSynthesis() bool {
	return c.Ark != "" && c.Murf != ""
}

// Complete 表示三个必需服务的密钥是否齐全。
func (c Credentials) Complete() bool {
	return c.HasTranscription() && c.HasSynthesis()
}
