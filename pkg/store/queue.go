package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Enqueue appends a pending_messages row.
// The caller is responsible for waking the session's event bus afterwards —
// this package only guarantees the durable write.
func (c *Client) Enqueue(ctx context.Context, sessionID int64, contentSessionID, cwd string, payload any) (int64, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}

	c.Lock()
	defer c.Unlock()

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO pending_messages (session_id, content_session_id, payload_json, status, attempt_count, created_at_epoch, cwd)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		sessionID, contentSessionID, string(payloadJSON), StatusPending, time.Now().Unix(), cwd)
	if err != nil {
		return 0, fmt.Errorf("enqueuing message: %w", err)
	}
	return res.LastInsertId()
}

// Claim atomically selects the oldest pending row for a session and
// transitions it to processing, stamping claimed_at_epoch. It returns
// (nil, nil) if none is pending — the processor treats that as "queue
// empty", not an error. The whole operation runs under the client's
// single-writer mutex: there is at most one claimant at a time by
// construction, so a plain transaction suffices in place of the
// `FOR UPDATE SKIP LOCKED` a multi-worker fleet would need.
func (c *Client) Claim(ctx context.Context, sessionID int64) (*PendingMessage, error) {
	c.Lock()
	defer c.Unlock()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var msg PendingMessage
	err = tx.GetContext(ctx, &msg,
		`SELECT * FROM pending_messages WHERE session_id = ? AND status = ? ORDER BY id ASC LIMIT 1`,
		sessionID, StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next pending message: %w", err)
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_messages SET status = ?, claimed_at_epoch = ? WHERE id = ?`,
		StatusProcessing, now, msg.ID); err != nil {
		return nil, fmt.Errorf("claiming message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	msg.Status = StatusProcessing
	msg.ClaimedAtEpoch = &now
	return &msg, nil
}

// MarkProcessed performs the terminal processing→processed transition on
// its own, for the case where the Writer produced no records and has
// nothing to commit alongside it (spec B2).
func (c *Client) MarkProcessed(ctx context.Context, messageID int64) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ? WHERE id = ? AND status = ?`,
		StatusProcessed, messageID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking message processed: %w", err)
	}
	return nil
}

// MaxAttempts bounds attempt_count before a message is abandoned instead of
// re-claimed. Configured by pkg/config's QueueConfig.MaxAttempts; a package
// -level default covers callers that construct a Client directly (tests).
var MaxAttempts = 5

// MarkFailed transitions processing→failed and increments attempt_count; if
// the cap is exceeded the row is abandoned instead of left eligible for
// re-claim.
func (c *Client) MarkFailed(ctx context.Context, messageID int64) error {
	c.Lock()
	defer c.Unlock()

	var attempts int
	if err := c.db.GetContext(ctx, &attempts,
		`SELECT attempt_count FROM pending_messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("reading attempt count: %w", err)
	}

	attempts++
	status := StatusFailed
	if attempts >= MaxAttempts {
		status = StatusAbandoned
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ?, attempt_count = ? WHERE id = ?`,
		status, attempts, messageID); err != nil {
		return fmt.Errorf("marking message failed: %w", err)
	}
	return nil
}

// MarkAllSessionFailed bulk-transitions every processing/pending row of a
// session to failed, used on generator crash.
func (c *Client) MarkAllSessionFailed(ctx context.Context, sessionID int64) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ? WHERE session_id = ? AND status IN (?, ?)`,
		StatusFailed, sessionID, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking session messages failed: %w", err)
	}
	return nil
}

// MarkAllSessionAbandoned bulk-transitions every non-terminal row of a
// session to abandoned, used on the fatal-provider fallback exhaustion
// path.
func (c *Client) MarkAllSessionAbandoned(ctx context.Context, sessionID int64) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ? WHERE session_id = ? AND status IN (?, ?)`,
		StatusAbandoned, sessionID, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking session messages abandoned: %w", err)
	}
	return nil
}

// ResetStuck transitions any row left in processing older than threshold
// back to pending — the crash-recovery step run once at startup (spec
// §4.1, P5: idempotent). It returns the number of rows reset.
func (c *Client) ResetStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	c.Lock()
	defer c.Unlock()
	cutoff := time.Now().Add(-threshold).Unix()
	res, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ?, claimed_at_epoch = NULL
		 WHERE status = ? AND claimed_at_epoch IS NOT NULL AND claimed_at_epoch < ?`,
		StatusPending, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("resetting stuck messages: %w", err)
	}
	return res.RowsAffected()
}

// ResetProcessingToPending resets just one session's in-flight rows back to
// pending, used during a safe drain ahead of a settings-triggered restart.
func (c *Client) ResetProcessingToPending(ctx context.Context, sessionID int64) error {
	c.Lock()
	defer c.Unlock()
	_, err := c.db.ExecContext(ctx,
		`UPDATE pending_messages SET status = ?, claimed_at_epoch = NULL WHERE session_id = ? AND status = ?`,
		StatusPending, sessionID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("resetting session to pending: %w", err)
	}
	return nil
}

// HasAnyPendingWork reports whether any session has a pending row, used by
// the periodic recovery timer to short-circuit an otherwise-empty pass.
func (c *Client) HasAnyPendingWork(ctx context.Context) (bool, error) {
	var n int
	if err := c.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM pending_messages WHERE status = ? LIMIT 1`, StatusPending); err != nil {
		return false, fmt.Errorf("checking pending work: %w", err)
	}
	return n > 0, nil
}

// PendingCount returns the number of pending (not yet claimed) rows for one
// session.
func (c *Client) PendingCount(ctx context.Context, sessionID int64) (int, error) {
	var n int
	if err := c.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM pending_messages WHERE session_id = ? AND status = ?`,
		sessionID, StatusPending); err != nil {
		return 0, fmt.Errorf("counting pending messages: %w", err)
	}
	return n, nil
}

// SessionsWithPendingMessages returns the distinct session ids that have at
// least one pending row, the recovery timer's scan target.
func (c *Client) SessionsWithPendingMessages(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT session_id FROM pending_messages WHERE status = ? ORDER BY session_id`,
		StatusPending); err != nil {
		return nil, fmt.Errorf("listing sessions with pending messages: %w", err)
	}
	return ids, nil
}
