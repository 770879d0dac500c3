package attend

import (
	"context"
	"errors"
	"strings"
	"time"

	"scanmark/internal/db"
)

// SessionManager governs the per-event sequence of attendance sessions.
// Sessions are append-only and strictly ordered by id; at most one is open
// per event, enforced by the partial unique index on sessions(event_id).
type SessionManager struct {
	store *db.Store
}

func NewSessionManager(store *db.Store) *SessionManager {
	return &SessionManager{store: store}
}

// errSessionRace marks a lost race on the one-open-session index. The
// transaction is already rolled back when it surfaces; callers retry once
// and then observe whatever the winner committed.
var errSessionRace = errors.New("open session race")

func isSessionRace(err error) bool {
	return errors.Is(err, errSessionRace)
}

// Create starts a new round of attendance as one unit: every sibling
// session is force-closed, the roster projection resets to absent, and the
// new session opens. History under older session ids is untouched.
func (m *SessionManager) Create(ctx context.Context, eventID int64, label string) (db.Session, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Session " + time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	var ses db.Session
	err := m.store.WithTx(ctx, func(q *db.Queries) error {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			if db.IsNotFound(err) {
				return notFound(CodeEventNotFound, "event %d not found", eventID)
			}
			return err
		}
		if err := q.DeactivateSessions(ctx, eventID); err != nil {
			return err
		}
		if err := q.ResetRosterStatus(ctx, eventID); err != nil {
			return err
		}
		var err error
		ses, err = q.InsertSession(ctx, db.InsertSessionParams{EventID: eventID, Name: label, IsActive: true})
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return db.Session{}, conflict(CodeSessionSuperseded, "another session was opened concurrently")
		}
		if _, ok := AsError(err); ok {
			return db.Session{}, err
		}
		return db.Session{}, internal(err)
	}
	return ses, nil
}

// Open reactivates a session. Only the most recently created session of the
// event may be reopened; anything older is view-only so stale rounds cannot
// be resurrected. Reopening rewrites the roster projection from the
// session's own records.
func (m *SessionManager) Open(ctx context.Context, sessionID int64) (db.Session, error) {
	var ses db.Session
	err := m.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		ses, err = q.GetSession(ctx, sessionID)
		if err != nil {
			if db.IsNotFound(err) {
				return notFound(CodeSessionNotFound, "session %d not found", sessionID)
			}
			return err
		}
		latest, err := q.LatestSession(ctx, ses.EventID)
		if err != nil {
			return err
		}
		if latest.ID != ses.ID {
			return conflict(CodeSessionSuperseded, "older sessions are view-only; create a new session to take attendance again")
		}
		if ses.IsActive {
			return nil
		}
		if err := q.DeactivateSessions(ctx, ses.EventID); err != nil {
			return err
		}
		if err := q.ActivateSession(ctx, ses.ID); err != nil {
			return err
		}
		return refreshProjection(ctx, q, ses.EventID, ses.ID)
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			return db.Session{}, err
		}
		return db.Session{}, internal(err)
	}
	ses.IsActive = true
	return ses, nil
}

// Close clears the open flag. An event may legitimately end up with zero
// open sessions.
func (m *SessionManager) Close(ctx context.Context, sessionID int64) error {
	if _, err := m.store.Queries.GetSession(ctx, sessionID); err != nil {
		if db.IsNotFound(err) {
			return notFound(CodeSessionNotFound, "session %d not found", sessionID)
		}
		return internal(err)
	}
	if err := m.store.Queries.DeactivateSession(ctx, sessionID); err != nil {
		return internal(err)
	}
	return nil
}

// EnsureDefault resolves the event's open session, lazily reopening the
// most recent one or creating "Session 1" so read and write paths never
// observe a sessionless event.
func (m *SessionManager) EnsureDefault(ctx context.Context, eventID int64) (db.Session, error) {
	var ses db.Session
	run := func() error {
		return m.store.WithTx(ctx, func(q *db.Queries) error {
			var err error
			ses, err = ensureDefaultSession(ctx, q, eventID)
			return err
		})
	}
	err := run()
	if isSessionRace(err) {
		err = run()
	}
	if err != nil {
		if _, ok := AsError(err); ok {
			return db.Session{}, err
		}
		return db.Session{}, internal(err)
	}
	return ses, nil
}

func (m *SessionManager) List(ctx context.Context, eventID int64) ([]db.Session, error) {
	sessions, err := m.store.Queries.ListSessions(ctx, eventID)
	if err != nil {
		return nil, internal(err)
	}
	return sessions, nil
}

// Active returns the open session, if any.
func (m *SessionManager) Active(ctx context.Context, eventID int64) (db.Session, bool, error) {
	ses, err := m.store.Queries.ActiveSession(ctx, eventID)
	if err != nil {
		if db.IsNotFound(err) {
			return db.Session{}, false, nil
		}
		return db.Session{}, false, internal(err)
	}
	return ses, true, nil
}

// ensureDefaultSession is the transactional body of EnsureDefault, shared
// with the mark path so session resolution composes with the mark's own
// transaction. The found-active lookup share-locks the row: a session that
// became active between the caller's first probe and this one must stay
// open until the caller commits.
func ensureDefaultSession(ctx context.Context, q *db.Queries, eventID int64) (db.Session, error) {
	ses, err := q.ActiveSessionForShare(ctx, eventID)
	if err == nil {
		return ses, nil
	}
	if !db.IsNotFound(err) {
		return db.Session{}, err
	}
	latest, err := q.LatestSession(ctx, eventID)
	if err == nil {
		if err := q.ActivateSession(ctx, latest.ID); err != nil {
			if db.IsUniqueViolation(err) {
				return db.Session{}, errSessionRace
			}
			return db.Session{}, err
		}
		if err := refreshProjection(ctx, q, eventID, latest.ID); err != nil {
			return db.Session{}, err
		}
		latest.IsActive = true
		return latest, nil
	}
	if !db.IsNotFound(err) {
		return db.Session{}, err
	}
	ses, err = q.InsertSession(ctx, db.InsertSessionParams{EventID: eventID, Name: defaultSessionName, IsActive: true})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return db.Session{}, errSessionRace
		}
		return db.Session{}, err
	}
	if err := q.ResetRosterStatus(ctx, eventID); err != nil {
		return db.Session{}, err
	}
	return ses, nil
}

// refreshProjection recomputes the roster's cached status from one
// session's ledger rows: reset everything, then replay the session.
func refreshProjection(ctx context.Context, q *db.Queries, eventID, sessionID int64) error {
	if err := q.ResetRosterStatus(ctx, eventID); err != nil {
		return err
	}
	return q.ApplySessionToRoster(ctx, eventID, sessionID)
}
