package processor

import (
	"fmt"
	"strings"

	"github.com/sessionmemory/worker/pkg/provider"
)

// pinnedInstructionTemplate is the fixed framing every session opens
// with. Truncation keeps it by provider.Message.Pinned, which is set
// explicitly in buildPinnedMessage, the one place the pinned message is
// ever constructed, rather than by sniffing text for markers at
// truncation time.
const pinnedInstructionTemplate = `You are an autonomous coding-session observer for project %q.
Reply only with XML: zero or more <observation> elements (type, title,
subtitle?, narrative, facts>fact*, concepts>concept*,
files_read>file*, files_modified>file*) and at most one <summary>
element (request, investigated, learned, completed, next_steps, notes?).
Do not reply with anything else.`

// buildPinnedMessage is the instruction prompt kept alive through every
// truncation pass for the life of a session.
func buildPinnedMessage(project string) provider.Message {
	return provider.Message{
		Role:    "user",
		Content: fmt.Sprintf(pinnedInstructionTemplate, project),
		Pinned:  true,
	}
}

// buildInitPrompt is delivered once, on a session's very first user
// prompt.
func buildInitPrompt(userPrompt string) string {
	return fmt.Sprintf("New session. The developer's first request:\n\n%s", userPrompt)
}

// buildContinuationPrompt is delivered whenever a processor (re)starts on
// a session that already has prior prompts.
func buildContinuationPrompt(userPrompt string) string {
	return fmt.Sprintf("The developer sent a new request in this ongoing session:\n\n%s", userPrompt)
}

// buildObservationPrompt renders one tool-use event as the per-item prompt
// sent to the provider.
func buildObservationPrompt(cwd, toolName, toolInput, toolResponse string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool use observed in %s.\ntool: %s\ninput: %s\n", cwd, toolName, toolInput)
	if toolResponse != "" {
		fmt.Fprintf(&b, "response: %s\n", toolResponse)
	}
	b.WriteString("Reply with zero or more <observation> elements capturing anything worth remembering.")
	return b.String()
}

// buildSummarizePrompt renders a summarize request.
func buildSummarizePrompt(lastAssistantMessage string) string {
	return fmt.Sprintf(
		"The coding session is wrapping up. The assistant's last message was:\n\n%s\n\nReply with exactly one <summary> element.",
		lastAssistantMessage)
}
