// Package inference talks to the text-generation backend: a sandbox
// proxy by default, or a direct provider through gollm. It validates
// raw replies, parses them into triplets, and retries with model
// rotation and jittered delays when a reply is unusable.
package inference

import (
	"context"
	"strings"

	"patchloop/fault"
	"patchloop/protocol"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one chat message in the conversation sent to the backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request is one completion call to a backend.
type Request struct {
	RunID       string
	Model       string
	Temperature float64
	Messages    []Message
}

// Backend produces a raw text completion for a request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Result is the outcome of a successful Step: the parsed triplet plus
// the accounting of how much it cost to get there.
type Result struct {
	Triplet  protocol.Triplet
	Raw      string
	Attempts int
	Errors   fault.Counter
	// Messages is the conversation as it stood when the reply parsed,
	// including any self-correction exchanges appended during retries.
	Messages []Message
}

// cleanMessages drops messages a backend would reject: unknown roles
// and assistant messages with blank content.
func cleanMessages(messages []Message) []Message {
	cleaned := make([]Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			continue
		}
		if m.Role == RoleAssistant && strings.TrimSpace(m.Content) == "" {
			continue
		}
		cleaned = append(cleaned, m)
	}
	return cleaned
}
