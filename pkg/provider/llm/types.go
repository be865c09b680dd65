package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// SystemMessage is shorthand for a "system"-role message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage is shorthand for a "user"-role message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
