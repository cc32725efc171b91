package store

// Session is the persisted per-session row. content_session_id is the
// host-assigned lookup key; memory_session_id is the stable FK assigned
// lazily by the first provider response.
type Session struct {
	SessionID           int64  `db:"session_id"`
	ContentSessionID    string `db:"content_session_id"`
	MemorySessionID     *string `db:"memory_session_id"`
	ProviderResumeToken *string `db:"provider_resume_token"`
	Project             string  `db:"project"`
	LastInputTokens     *int    `db:"last_input_tokens"`
	LastPromptNumber    int     `db:"last_prompt_number"`
	CreatedAtEpoch       int64   `db:"created_at_epoch"`
}

// UserPrompt is one developer-submitted prompt recorded against a session.
type UserPrompt struct {
	ID               int64  `db:"id"`
	ContentSessionID string `db:"content_session_id"`
	PromptNumber     int    `db:"prompt_number"`
	Text             string `db:"text"`
	CreatedAtEpoch   int64  `db:"created_at_epoch"`
}

// Observation is one recorded unit of discovery. List-valued fields are
// persisted as JSON text columns and exposed here already decoded.
type Observation struct {
	ID               int64    `db:"id"`
	MemorySessionID  string   `db:"memory_session_id"`
	Project          string   `db:"project"`
	Type             string   `db:"type"`
	Title            string   `db:"title"`
	Subtitle         *string  `db:"subtitle"`
	Narrative        *string  `db:"narrative"`
	Facts            []string `db:"-"`
	Concepts         []string `db:"-"`
	FilesRead        []string `db:"-"`
	FilesModified    []string `db:"-"`
	PromptNumber     int      `db:"prompt_number"`
	DiscoveryTokens  int      `db:"discovery_tokens"`
	CreatedAtEpoch   int64    `db:"created_at_epoch"`
}

// Summary is the closing record written when a session wraps up.
type Summary struct {
	ID              int64   `db:"id"`
	MemorySessionID string  `db:"memory_session_id"`
	Project         string  `db:"project"`
	Request         string  `db:"request"`
	Investigated    string  `db:"investigated"`
	Learned         string  `db:"learned"`
	Completed       string  `db:"completed"`
	NextSteps       string  `db:"next_steps"`
	Notes           *string `db:"notes"`
	PromptNumber    int     `db:"prompt_number"`
	DiscoveryTokens int     `db:"discovery_tokens"`
	CreatedAtEpoch  int64   `db:"created_at_epoch"`
}

// MessageStatus is the PendingMessage lifecycle state.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusProcessed  MessageStatus = "processed"
	StatusFailed     MessageStatus = "failed"
	StatusAbandoned  MessageStatus = "abandoned"
)

// PendingMessage is one durable queue row. Payload is opaque JSON (either
// a tool observation or a summarize request) decoded by the caller.
type PendingMessage struct {
	ID               int64         `db:"id"`
	SessionID        int64         `db:"session_id"`
	ContentSessionID string        `db:"content_session_id"`
	PayloadJSON      string        `db:"payload_json"`
	Status           MessageStatus `db:"status"`
	AttemptCount     int           `db:"attempt_count"`
	CreatedAtEpoch   int64         `db:"created_at_epoch"`
	ClaimedAtEpoch   *int64        `db:"claimed_at_epoch"`
	Cwd              string        `db:"cwd"`
}
