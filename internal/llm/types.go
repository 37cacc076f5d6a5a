package llm

import (
	"regexp"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Request is a single-turn chat completion request. The agents in this repo
// speak a tag-based text protocol, so messages are plain text end to end.
type Request struct {
	Provider    string
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int

	// ProviderOptions are merged verbatim into the wire body under the
	// adapter's options key.
	ProviderOptions map[string]any
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "request missing model"}
	}
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "request missing messages"}
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return &ConfigurationError{Message: "invalid message role: " + string(m.Role)}
		}
	}
	return nil
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

type Response struct {
	ID       string
	Model    string
	Provider string
	Message  Message
	Finish   FinishReason
	Usage    Usage
	Raw      map[string]any
}

// Text returns the assistant text with reasoning blocks and stray code fences
// removed, ready for protocol parsing.
func (r Response) Text() string {
	return StripFences(StripThinkBlocks(r.Message.Content))
}

var thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripThinkBlocks removes <think>...</think> spans some models prepend to
// their visible output.
func StripThinkBlocks(s string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(s, ""))
}

// StripFences unwraps a response that is nothing but one fenced code block.
func StripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	body := strings.TrimPrefix(t, "```")
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}
