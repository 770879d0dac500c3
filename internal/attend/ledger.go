package attend

import (
	"context"

	"scanmark/internal/db"
)

// Ledger reads the append-only per-session presence history. Writes go
// through the marking service so the record insert and the roster
// projection update share one transaction.
type Ledger struct {
	store *db.Store
}

func NewLedger(store *db.Store) *Ledger {
	return &Ledger{store: store}
}

// Summary is the dashboard count triple for one session.
type Summary struct {
	Total     int64 `json:"total"`
	Present   int64 `json:"present"`
	Remaining int64 `json:"remaining"`
}

func (l *Ledger) PresentCount(ctx context.Context, sessionID int64) (int64, error) {
	n, err := l.store.Queries.CountPresence(ctx, sessionID)
	if err != nil {
		return 0, internal(err)
	}
	return n, nil
}

func (l *Ledger) Summary(ctx context.Context, eventID, sessionID int64) (Summary, error) {
	total, err := l.store.Queries.CountRoster(ctx, eventID)
	if err != nil {
		return Summary{}, internal(err)
	}
	present, err := l.store.Queries.CountPresence(ctx, sessionID)
	if err != nil {
		return Summary{}, internal(err)
	}
	remaining := total - present
	if remaining < 0 {
		remaining = 0
	}
	return Summary{Total: total, Present: present, Remaining: remaining}, nil
}

// RosterStatus returns one row per roster entry: a left-outer join of the
// roster against the session's records. Row count always equals roster
// size; unmatched identifiers come back Absent with empty metadata.
func (l *Ledger) RosterStatus(ctx context.Context, eventID, sessionID int64) ([]db.RosterStatusRow, error) {
	rows, err := l.store.Queries.RosterStatusRows(ctx, eventID, sessionID)
	if err != nil {
		return nil, internal(err)
	}
	return rows, nil
}

// PresentOnly returns only matched rows, newest mark first with name/uid as
// tie-break.
func (l *Ledger) PresentOnly(ctx context.Context, eventID, sessionID int64) ([]db.RosterStatusRow, error) {
	rows, err := l.store.Queries.PresentRows(ctx, eventID, sessionID)
	if err != nil {
		return nil, internal(err)
	}
	return rows, nil
}

// Recent returns the newest marks of the session, bounded to limit.
func (l *Ledger) Recent(ctx context.Context, eventID, sessionID int64, limit int32) ([]db.RosterStatusRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.store.Queries.RecentPresence(ctx, eventID, sessionID, limit)
	if err != nil {
		return nil, internal(err)
	}
	return rows, nil
}

// recordPresence appends a ledger row and updates the roster projection in
// the caller's transaction. The presence primary key rejects a second
// record for (session, identifier); callers translate that violation into
// the already-marked conflict.
func recordPresence(ctx context.Context, q *db.Queries, arg db.InsertPresenceParams) (db.PresenceRecord, error) {
	if err := q.InsertPresence(ctx, arg); err != nil {
		return db.PresenceRecord{}, err
	}
	err := q.SetRosterPresence(ctx, db.SetRosterPresenceParams{
		EventID:         arg.EventID,
		UID:             arg.UID,
		MarkedAt:        arg.MarkedAt,
		Source:          arg.Source,
		DeviceID:        arg.DeviceID,
		DeviceTimestamp: arg.DeviceTimestamp,
	})
	if err != nil {
		return db.PresenceRecord{}, err
	}
	return db.PresenceRecord{
		SessionID:       arg.SessionID,
		EventID:         arg.EventID,
		UID:             arg.UID,
		MarkedAt:        arg.MarkedAt,
		Source:          arg.Source,
		DeviceID:        arg.DeviceID,
		DeviceTimestamp: arg.DeviceTimestamp,
	}, nil
}
