package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ObservationInput is the Writer's (C5) view of one parsed <observation>
// element, before it has been assigned a row id or creation timestamp.
type ObservationInput struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// SummaryInput is the Writer's view of the at-most-one parsed <summary>
// element.
type SummaryInput struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Notes        string
}

// StoreResult reports what StoreObservationsAtomic actually wrote.
type StoreResult struct {
	ObservationIDs []int64
	SummaryID      *int64
	CreatedAtEpoch int64
}

// StoreObservationsAtomic executes the single write transaction that
// persists zero or more observations and an optional summary, and — when
// messageID is non-nil — marks the originating PendingMessage row
// processed in the very same transaction, so a writer crash between the
// two writes is impossible.
func (c *Client) StoreObservationsAtomic(
	ctx context.Context,
	memorySessionID, project string,
	observations []ObservationInput,
	summary *SummaryInput,
	messageID *int64,
	promptNumber, discoveryTokens int,
	createdAtEpoch *int64,
) (*StoreResult, error) {
	c.Lock()
	defer c.Unlock()

	ts := time.Now().Unix()
	if createdAtEpoch != nil {
		ts = *createdAtEpoch
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &StoreResult{CreatedAtEpoch: ts}

	for _, obs := range observations {
		factsJSON, err := json.Marshal(nonNil(obs.Facts))
		if err != nil {
			return nil, fmt.Errorf("encoding facts: %w", err)
		}
		conceptsJSON, err := json.Marshal(nonNil(obs.Concepts))
		if err != nil {
			return nil, fmt.Errorf("encoding concepts: %w", err)
		}
		filesReadJSON, err := json.Marshal(nonNil(obs.FilesRead))
		if err != nil {
			return nil, fmt.Errorf("encoding files_read: %w", err)
		}
		filesModifiedJSON, err := json.Marshal(nonNil(obs.FilesModified))
		if err != nil {
			return nil, fmt.Errorf("encoding files_modified: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO observations
			 (memory_session_id, project, type, title, subtitle, narrative,
			  facts_json, concepts_json, files_read_json, files_modified_json,
			  prompt_number, discovery_tokens, created_at_epoch)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			memorySessionID, project, obs.Type, obs.Title, nullIfEmpty(obs.Subtitle), nullIfEmpty(obs.Narrative),
			string(factsJSON), string(conceptsJSON), string(filesReadJSON), string(filesModifiedJSON),
			promptNumber, discoveryTokens, ts)
		if err != nil {
			return nil, fmt.Errorf("inserting observation: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading observation id: %w", err)
		}
		result.ObservationIDs = append(result.ObservationIDs, id)
	}

	if summary != nil {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO summaries
			 (memory_session_id, project, request, investigated, learned, completed, next_steps, notes,
			  prompt_number, discovery_tokens, created_at_epoch)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			memorySessionID, project, summary.Request, summary.Investigated, summary.Learned,
			summary.Completed, summary.NextSteps, nullIfEmpty(summary.Notes),
			promptNumber, discoveryTokens, ts)
		if err != nil {
			return nil, fmt.Errorf("inserting summary: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading summary id: %w", err)
		}
		result.SummaryID = &id
	}

	if messageID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_messages SET status = ? WHERE id = ? AND status = ?`,
			StatusProcessed, *messageID, StatusProcessing); err != nil {
			return nil, fmt.Errorf("marking message processed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing observation write: %w", err)
	}
	return result, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
