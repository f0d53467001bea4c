package chat

import "time"

// Sender values recorded in the conversation history.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one entry of a session's conversation history. The history is
// replayed to the response engine in insertion order on every turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
