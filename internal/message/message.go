// Package message defines the Message and ConversationRequest wire types
// shared across the router, dispatcher, stream, and chat packages.
package message

// Message is one turn of the conversation. Role is "user" or "assistant".
// Messages are passed through, never interpreted except by the Continuation
// Detector and the Supervisor Router (on the last user message only).
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ConversationRequest is the client-facing POST /chat body.
type ConversationRequest struct {
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
	ThreadID string    `json:"thread_id,omitempty"`
	Stream   bool      `json:"stream"`
}

// LastUserMessage returns the content of the last message with role "user",
// or "" if there is none.
func (r ConversationRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}
