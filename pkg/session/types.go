// Package session implements the Session Manager (C7): the in-memory
// registry of active sessions, mediating between HTTP requests and
// processors, keyed by session_id with one long-lived cooperative
// loop per entry.
package session

import (
	"context"
	"time"

	"github.com/sessionmemory/worker/pkg/config"
	"github.com/sessionmemory/worker/pkg/events"
)

// PendingRestart records a scheduled restart request not yet acted on.
type PendingRestart struct {
	Reason      string
	RequestedAt time.Time
}

// State is the manager's per-session bookkeeping record. Other components
// only ever read a snapshot of it (via Manager.Snapshot) or call the small
// set of mutation methods exposed by *Manager — mutation never happens
// directly on a State value held outside the manager, so ownership stays
// with the manager.
type State struct {
	SessionID        int64
	ContentSessionID string
	Project          string

	InFlightCount      int
	GeneratorIdle      bool
	IdleSince          time.Time
	PendingRestart     *PendingRestart
	RecoveryInProgress bool
	CurrentProvider    config.ProviderKind

	Bus    *events.Bus
	Cancel context.CancelFunc
}

// Snapshot is an immutable copy of a State, safe to read without the
// manager's lock held.
type Snapshot struct {
	SessionID          int64
	ContentSessionID   string
	Project            string
	InFlightCount      int
	GeneratorIdle      bool
	IdleSince          time.Time
	PendingRestart     *PendingRestart
	RecoveryInProgress bool
	CurrentProvider    config.ProviderKind
}
