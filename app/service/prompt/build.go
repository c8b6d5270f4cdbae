package prompt

import (
	"strings"

	"groupchat/app/service/settings"
)

const defaultAssistantName = "Assistant"

// Build produces the system prompt for a conversation from its assistant
// settings. Deterministic, no side effects.
func Build(assistant settings.Assistant) string {
	name := strings.TrimSpace(assistant.AssistantName)
	if name == "" {
		name = defaultAssistantName
	}

	var builder strings.Builder

	builder.WriteString("You are ")
	builder.WriteString(name)
	builder.WriteString(", a participant in a group chat. Keep your responses concise and conversational.\n")
	builder.WriteString("You should remember and reference information from previous messages in the conversation.\n")
	builder.WriteString("Each user message includes a `name` field indicating the sender.\n")
	builder.WriteString("When you respond, do NOT include your own name or any prefix, just reply naturally as the assistant.\n")
	builder.WriteString("When a user greets you, respond naturally as a human would, vary your greetings ")
	builder.WriteString("or jump straight into the conversation if appropriate.\n")
	builder.WriteString("When a user asks a follow-up question, always look back at previous messages in the ")
	builder.WriteString("conversation to find relevant information before asking for clarification.")

	instructions := strings.TrimSpace(assistant.CustomInstructions)
	if instructions != "" {
		builder.WriteString("\nYou MUST strictly follow these additional instructions for ALL your responses:\n")
		builder.WriteString(instructions)
	}

	return builder.String()
}
