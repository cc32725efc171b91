package queue

// PayloadKind discriminates the two shapes of work the HTTP surface (C8)
// enqueues for a session's processor to claim: a tool
// observation or a summarize request.
type PayloadKind string

const (
	KindObservation PayloadKind = "observation"
	KindSummarize   PayloadKind = "summarize"
)

// ObservationPayload is the body of a pending_messages row enqueued by
// POST /api/sessions/observations. ToolInput/ToolResponse already passed
// through privacy scrubbing before being enqueued.
type ObservationPayload struct {
	Kind         PayloadKind `json:"kind"`
	ToolName     string      `json:"tool_name"`
	ToolInput    string      `json:"tool_input"`
	ToolResponse string      `json:"tool_response"`
}

// SummarizePayload is the body of a pending_messages row enqueued by
// POST /api/sessions/summarize.
type SummarizePayload struct {
	Kind                 PayloadKind `json:"kind"`
	LastAssistantMessage string      `json:"last_assistant_message"`
}

// PayloadHeader recovers just the discriminator so a consumer can decode
// the rest of the envelope into the right concrete type.
type PayloadHeader struct {
	Kind PayloadKind `json:"kind"`
}
