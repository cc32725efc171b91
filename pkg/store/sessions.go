package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// CreateOrGetSession is idempotent on contentSessionID (spec R3): if a
// session already exists for it, the existing row is returned unchanged;
// otherwise a new row is created with the supplied project.
func (c *Client) CreateOrGetSession(ctx context.Context, contentSessionID, project string) (*Session, error) {
	c.Lock()
	defer c.Unlock()

	if s, err := c.getSessionByContentID(ctx, contentSessionID); err == nil {
		return s, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (content_session_id, project, last_prompt_number, created_at_epoch)
		 VALUES (?, ?, 0, ?)`,
		contentSessionID, project, now)
	if err != nil {
		// Another caller may have raced us between the lookup and insert;
		// the UNIQUE constraint on content_session_id makes that safe to retry.
		if s, getErr := c.getSessionByContentID(ctx, contentSessionID); getErr == nil {
			return s, nil
		}
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new session id: %w", err)
	}
	return c.getSessionByID(ctx, id)
}

func (c *Client) getSessionByContentID(ctx context.Context, contentSessionID string) (*Session, error) {
	var s Session
	err := c.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE content_session_id = ?`, contentSessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session by content id: %w", err)
	}
	return &s, nil
}

func (c *Client) getSessionByID(ctx context.Context, id int64) (*Session, error) {
	var s Session
	err := c.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE session_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session by id: %w", err)
	}
	return &s, nil
}

// GetSessionByID returns a fresh read of the session row, used by the
// Session Manager to refresh its cache on every access.
func (c *Client) GetSessionByID(ctx context.Context, id int64) (*Session, error) {
	return c.getSessionByID(ctx, id)
}

// GetSessionByContentID looks up a session by its host-assigned content
// session id without creating one, used by the observation/summarize/
// complete HTTP handlers which only ever act on a session already
// registered through /api/sessions/init.
func (c *Client) GetSessionByContentID(ctx context.Context, contentSessionID string) (*Session, error) {
	return c.getSessionByContentID(ctx, contentSessionID)
}

// UpdateMemorySessionID assigns the stable memory_session_id on first
// provider response. It is never changed again by any other operation.
func (c *Client) UpdateMemorySessionID(ctx context.Context, sessionID int64, memorySessionID string) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET memory_session_id = ? WHERE session_id = ?`,
		memorySessionID, sessionID)
	if err != nil {
		return fmt.Errorf("updating memory_session_id: %w", err)
	}
	return nil
}

// UpdateProviderResumeToken sets or clears (pass "") the provider-side
// resume handle, independent of memory_session_id.
func (c *Client) UpdateProviderResumeToken(ctx context.Context, sessionID int64, token string) error {
	c.Lock()
	defer c.Unlock()
	var arg any
	if token != "" {
		arg = token
	}
	_, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET provider_resume_token = ? WHERE session_id = ?`,
		arg, sessionID)
	if err != nil {
		return fmt.Errorf("updating provider_resume_token: %w", err)
	}
	return nil
}

// UpdateLastInputTokens records the most recently reported prompt-token
// count, used by the rollover policy. Pass nil to clear it.
func (c *Client) UpdateLastInputTokens(ctx context.Context, sessionID int64, tokens *int) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET last_input_tokens = ? WHERE session_id = ?`,
		tokens, sessionID)
	if err != nil {
		return fmt.Errorf("updating last_input_tokens: %w", err)
	}
	return nil
}
