package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveUserPrompt inserts the next UserPrompt row for a session, enforcing
// per-session strictly-increasing prompt_number (spec I2/O1) by deriving the
// number from sessions.last_prompt_number inside the same write transaction.
func (c *Client) SaveUserPrompt(ctx context.Context, contentSessionID, text string) (*UserPrompt, error) {
	c.Lock()
	defer c.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID int64
	var lastPromptNumber int
	err = tx.QueryRowContext(ctx,
		`SELECT session_id, last_prompt_number FROM sessions WHERE content_session_id = ?`,
		contentSessionID).Scan(&sessionID, &lastPromptNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session for prompt numbering: %w", err)
	}

	promptNumber := lastPromptNumber + 1
	now := time.Now().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_prompts (content_session_id, prompt_number, text, created_at_epoch)
		 VALUES (?, ?, ?, ?)`,
		contentSessionID, promptNumber, text, now); err != nil {
		return nil, fmt.Errorf("inserting user prompt: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_prompt_number = ? WHERE session_id = ?`,
		promptNumber, sessionID); err != nil {
		return nil, fmt.Errorf("advancing last_prompt_number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing prompt insert: %w", err)
	}

	return &UserPrompt{
		ContentSessionID: contentSessionID,
		PromptNumber:     promptNumber,
		Text:             text,
		CreatedAtEpoch:   now,
	}, nil
}

// GetLatestUserPrompt returns the most recently saved prompt for a session.
func (c *Client) GetLatestUserPrompt(ctx context.Context, contentSessionID string) (*UserPrompt, error) {
	var p UserPrompt
	err := c.db.GetContext(ctx, &p,
		`SELECT * FROM user_prompts WHERE content_session_id = ? ORDER BY prompt_number DESC LIMIT 1`,
		contentSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest user prompt: %w", err)
	}
	return &p, nil
}

// GetPromptNumberFromPrompts returns the highest prompt_number recorded for
// a session, or 0 if none exist.
func (c *Client) GetPromptNumberFromPrompts(ctx context.Context, contentSessionID string) (int, error) {
	var n sql.NullInt64
	err := c.db.GetContext(ctx, &n,
		`SELECT MAX(prompt_number) FROM user_prompts WHERE content_session_id = ?`,
		contentSessionID)
	if err != nil {
		return 0, fmt.Errorf("querying max prompt number: %w", err)
	}
	if !n.Valid {
		return 0, nil
	}
	return int(n.Int64), nil
}
