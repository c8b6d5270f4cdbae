package messages

import "time"

const AssistantSenderID = "assistant"

// Message is one entry of a conversation's durable feed. The feed is the
// source of truth for what is displayed; prompt history is derived from it.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	FromAssistant  bool      `json:"fromAssistant"`
}
