package attend

import (
	"context"
	"log"
	"strings"
	"time"

	"scanmark/internal/db"
)

// Marker is the orchestration entry point for scans: it decides
// accept/reject and writes the ledger. Steps 4-7 (resolve session, check,
// insert, update projection) run in one transaction per mark, so concurrent
// scans of the same identifier yield exactly one success and the rest
// observe already-marked, while different identifiers never block each
// other.
type Marker struct {
	store   *db.Store
	devices *DeviceTracker
}

func NewMarker(store *db.Store, devices *DeviceTracker) *Marker {
	return &Marker{store: store, devices: devices}
}

type MarkRequest struct {
	EventID         int64
	UID             string
	DeviceID        string
	DeviceTimestamp string
	Origin          string
	Source          db.PresenceSource
}

type RegisterRequest struct {
	MarkRequest
	Name   string
	Branch string
	Year   string
}

type MarkResult struct {
	Entry     db.RosterEntry
	Record    db.PresenceRecord
	SessionID int64
	Timestamp time.Time
}

// Mark applies a scan against the event's open session.
func (m *Marker) Mark(ctx context.Context, req MarkRequest) (MarkResult, error) {
	req.UID = strings.TrimSpace(req.UID)
	if req.UID == "" || req.EventID <= 0 {
		return MarkResult{}, invalid("uid and event_id are required")
	}
	if req.Source == "" {
		req.Source = db.SourceScanned
	}
	m.touch(ctx, req)

	if err := m.checkEventOpen(ctx, req.EventID); err != nil {
		return MarkResult{}, err
	}

	var result MarkResult
	attempt := func() error {
		return m.store.WithTx(ctx, func(q *db.Queries) error {
			ses, err := resolveOpenSession(ctx, q, req.EventID)
			if err != nil {
				return err
			}
			entry, err := q.GetRosterEntry(ctx, req.EventID, req.UID)
			if err != nil {
				if db.IsNotFound(err) {
					return notFound(CodeUnknownUID, "uid %q not on roster", req.UID)
				}
				return err
			}
			if existing, err := q.GetPresence(ctx, ses.ID, req.UID); err == nil {
				return alreadyMarked(entry, existing)
			} else if !db.IsNotFound(err) {
				return err
			}
			now := time.Now().UTC().Truncate(time.Microsecond)
			record, err := recordPresence(ctx, q, db.InsertPresenceParams{
				SessionID:       ses.ID,
				EventID:         req.EventID,
				UID:             req.UID,
				MarkedAt:        now,
				Source:          req.Source,
				DeviceID:        strings.TrimSpace(req.DeviceID),
				DeviceTimestamp: strings.TrimSpace(req.DeviceTimestamp),
			})
			if err != nil {
				return err
			}
			entry, err = q.GetRosterEntry(ctx, req.EventID, req.UID)
			if err != nil {
				return err
			}
			result = MarkResult{Entry: entry, Record: record, SessionID: ses.ID, Timestamp: now}
			return nil
		})
	}
	if err := m.run(ctx, attempt, req.EventID, req.UID); err != nil {
		return MarkResult{}, err
	}
	return result, nil
}

// Register is the on-the-fly variant: it creates the roster entry and marks
// it present in the same transaction, with source Manual.
func (m *Marker) Register(ctx context.Context, req RegisterRequest) (MarkResult, error) {
	req.UID = strings.TrimSpace(req.UID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UID == "" || req.Name == "" || req.EventID <= 0 {
		return MarkResult{}, invalid("event_id, uid and name are required")
	}
	req.Source = db.SourceManual
	m.touch(ctx, req.MarkRequest)

	if err := m.checkEventOpen(ctx, req.EventID); err != nil {
		return MarkResult{}, err
	}

	var result MarkResult
	attempt := func() error {
		return m.store.WithTx(ctx, func(q *db.Queries) error {
			ses, err := resolveOpenSession(ctx, q, req.EventID)
			if err != nil {
				return err
			}
			if existing, err := q.GetPresence(ctx, ses.ID, req.UID); err == nil {
				entry, entryErr := q.GetRosterEntry(ctx, req.EventID, req.UID)
				if entryErr != nil {
					entry = db.RosterEntry{EventID: req.EventID, UID: req.UID}
				}
				return alreadyMarked(entry, existing)
			} else if !db.IsNotFound(err) {
				return err
			}
			err = q.UpsertRosterEntry(ctx, db.UpsertRosterEntryParams{
				EventID: req.EventID,
				UID:     req.UID,
				Name:    req.Name,
				Branch:  strings.TrimSpace(req.Branch),
				Year:    strings.TrimSpace(req.Year),
			})
			if err != nil {
				return err
			}
			now := time.Now().UTC().Truncate(time.Microsecond)
			record, err := recordPresence(ctx, q, db.InsertPresenceParams{
				SessionID:       ses.ID,
				EventID:         req.EventID,
				UID:             req.UID,
				MarkedAt:        now,
				Source:          db.SourceManual,
				DeviceID:        strings.TrimSpace(req.DeviceID),
				DeviceTimestamp: strings.TrimSpace(req.DeviceTimestamp),
			})
			if err != nil {
				return err
			}
			entry, err := q.GetRosterEntry(ctx, req.EventID, req.UID)
			if err != nil {
				return err
			}
			result = MarkResult{Entry: entry, Record: record, SessionID: ses.ID, Timestamp: now}
			return nil
		})
	}
	if err := m.run(ctx, attempt, req.EventID, req.UID); err != nil {
		return MarkResult{}, err
	}
	return result, nil
}

// touch is fire-and-forget relative to the mark outcome.
func (m *Marker) touch(ctx context.Context, req MarkRequest) {
	eventID := req.EventID
	if err := m.devices.Touch(ctx, req.DeviceID, req.Origin, &eventID); err != nil {
		log.Printf("device touch failed for %q: %v", req.DeviceID, err)
	}
}

func (m *Marker) checkEventOpen(ctx context.Context, eventID int64) error {
	evt, err := m.store.Queries.GetEvent(ctx, eventID)
	if err != nil {
		if db.IsNotFound(err) {
			return notFound(CodeEventNotFound, "event %d not found", eventID)
		}
		return internal(err)
	}
	if !evt.IsActive {
		return conflict(CodeEventClosed, "event is closed")
	}
	return nil
}

// run executes one mark attempt, retrying once when a session activation
// race rolled the transaction back, and converts a lost duplicate-insert
// race into the same already-marked conflict a pre-checked duplicate gets.
func (m *Marker) run(ctx context.Context, attempt func() error, eventID int64, uid string) error {
	err := attempt()
	if isSessionRace(err) {
		err = attempt()
	}
	switch {
	case err == nil:
		return nil
	case isSessionRace(err):
		return newError(KindInternal, CodeNoOpenSession, "no open session could be resolved for event %d", eventID)
	case db.IsUniqueViolation(err):
		return m.lostMarkRace(ctx, eventID, uid)
	default:
		if _, ok := AsError(err); ok {
			return err
		}
		return internal(err)
	}
}

// lostMarkRace reloads the winning record after a constraint-arbitrated
// duplicate insert, so the caller cannot distinguish a true double-scan
// from a lost race.
func (m *Marker) lostMarkRace(ctx context.Context, eventID int64, uid string) error {
	e := conflict(CodeAlreadyMarked, "already marked")
	if entry, err := m.store.Queries.GetRosterEntry(ctx, eventID, uid); err == nil {
		e.Entry = &entry
	}
	if ses, err := m.store.Queries.ActiveSession(ctx, eventID); err == nil {
		if record, err := m.store.Queries.GetPresence(ctx, ses.ID, uid); err == nil {
			e.Record = &record
		}
	}
	return e
}

func alreadyMarked(entry db.RosterEntry, record db.PresenceRecord) *Error {
	e := conflict(CodeAlreadyMarked, "already marked")
	e.Entry = &entry
	e.Record = &record
	return e
}

// resolveOpenSession share-locks the open session row for the duration of
// the caller's transaction so a concurrent activation transition cannot
// supersede the session mid-mark; if none is open it falls through to the
// lazy default.
func resolveOpenSession(ctx context.Context, q *db.Queries, eventID int64) (db.Session, error) {
	ses, err := q.ActiveSessionForShare(ctx, eventID)
	if err == nil {
		return ses, nil
	}
	if !db.IsNotFound(err) {
		return db.Session{}, err
	}
	return ensureDefaultSession(ctx, q, eventID)
}
