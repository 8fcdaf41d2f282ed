package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/duckmesh/querypilot/internal/llm"
)

const (
	DefaultHistoryMessages = 10
	DefaultHistoryChars    = 200
)

// FoldHistory keeps the last maxMessages messages, drops everything that is not a user or
// assistant turn, and truncates each remaining message to maxChars characters followed by "...".
// The window is taken before filtering, so fewer than maxMessages may remain.
func FoldHistory(messages []Message, maxMessages, maxChars int) []Message {
	if maxMessages <= 0 {
		maxMessages = DefaultHistoryMessages
	}
	if maxChars <= 0 {
		maxChars = DefaultHistoryChars
	}
	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	folded := make([]Message, 0, len(messages))
	for _, message := range messages {
		role := strings.ToLower(strings.TrimSpace(message.Role))
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		folded = append(folded, Message{Role: role, Content: truncate(message.Content, maxChars)})
	}
	return folded
}

func truncate(content string, maxChars int) string {
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxChars]) + "..."
}

// renderHistory is the CONVERSATION HISTORY block of the decomposer prompt.
func renderHistory(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nCONVERSATION HISTORY:\n")
	for _, message := range messages {
		label := "User"
		if message.Role == llm.RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(message.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func toLLMMessages(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, message := range messages {
		out = append(out, llm.Message{Role: message.Role, Content: message.Content})
	}
	return out
}
