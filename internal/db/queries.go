package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Events

type CreateEventParams struct {
	Name      string
	StartTime pgtype.Timestamptz
	EndTime   pgtype.Timestamptz
	IsActive  bool
}

func (q *Queries) CreateEvent(ctx context.Context, arg CreateEventParams) (Event, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO events (event_name, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, event_name, start_time, end_time, is_active, created_at
	`, arg.Name, arg.StartTime, arg.EndTime, arg.IsActive)
	return scanEvent(row)
}

func (q *Queries) GetEvent(ctx context.Context, eventID int64) (Event, error) {
	row := q.db.QueryRow(ctx, `
		SELECT event_id, event_name, start_time, end_time, is_active, created_at
		FROM events WHERE event_id = $1
	`, eventID)
	return scanEvent(row)
}

func (q *Queries) ListEvents(ctx context.Context, activeOnly bool) ([]Event, error) {
	rows, err := q.db.Query(ctx, `
		SELECT event_id, event_name, start_time, end_time, is_active, created_at
		FROM events
		WHERE NOT $1::boolean OR is_active
		ORDER BY event_id DESC
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (q *Queries) SetEventActive(ctx context.Context, eventID int64, active bool) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE events SET is_active = $2 WHERE event_id = $1`, eventID, active)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var evt Event
	err := row.Scan(&evt.ID, &evt.Name, &evt.StartTime, &evt.EndTime, &evt.IsActive, &evt.CreatedAt)
	return evt, err
}

// Roster

type UpsertRosterEntryParams struct {
	EventID int64
	UID     string
	Name    string
	Branch  string
	Year    string
}

// UpsertRosterEntry inserts or replaces a roster row. Re-importing always
// reverts the denormalized projection to unmarked; historical presence rows
// are untouched.
func (q *Queries) UpsertRosterEntry(ctx context.Context, arg UpsertRosterEntryParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO roster (event_id, uid, name, branch, year)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, uid) DO UPDATE SET
			name = EXCLUDED.name,
			branch = EXCLUDED.branch,
			year = EXCLUDED.year,
			status = 'Absent',
			marked_at = NULL,
			source = 'Imported',
			device_id = '',
			device_timestamp = ''
	`, arg.EventID, arg.UID, arg.Name, arg.Branch, arg.Year)
	return err
}

func (q *Queries) GetRosterEntry(ctx context.Context, eventID int64, uid string) (RosterEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT event_id, uid, name, branch, year, status, marked_at, source, device_id, device_timestamp
		FROM roster WHERE event_id = $1 AND uid = $2
	`, eventID, uid)
	return scanRosterEntry(row)
}

func (q *Queries) ListRoster(ctx context.Context, eventID int64) ([]RosterEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT event_id, uid, name, branch, year, status, marked_at, source, device_id, device_timestamp
		FROM roster WHERE event_id = $1
		ORDER BY name, uid
	`, eventID)
	if err != nil {
		return nil, err
	}
	return collectRosterEntries(rows)
}

func (q *Queries) SearchRoster(ctx context.Context, eventID int64, query string) ([]RosterEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT event_id, uid, name, branch, year, status, marked_at, source, device_id, device_timestamp
		FROM roster
		WHERE event_id = $1 AND (name ILIKE '%' || $2 || '%' OR uid ILIKE '%' || $2 || '%')
		ORDER BY name, uid
	`, eventID, query)
	if err != nil {
		return nil, err
	}
	return collectRosterEntries(rows)
}

func (q *Queries) CountRoster(ctx context.Context, eventID int64) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM roster WHERE event_id = $1`, eventID).Scan(&total)
	return total, err
}

// ResetRosterStatus clears the denormalized projection for every entry of
// the event without touching presence history.
func (q *Queries) ResetRosterStatus(ctx context.Context, eventID int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE roster SET
			status = 'Absent',
			marked_at = NULL,
			source = 'Imported',
			device_id = '',
			device_timestamp = ''
		WHERE event_id = $1
	`, eventID)
	return err
}

type SetRosterPresenceParams struct {
	EventID         int64
	UID             string
	MarkedAt        time.Time
	Source          PresenceSource
	DeviceID        string
	DeviceTimestamp string
}

func (q *Queries) SetRosterPresence(ctx context.Context, arg SetRosterPresenceParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE roster SET
			status = 'Present',
			marked_at = $3,
			source = $4,
			device_id = $5,
			device_timestamp = $6
		WHERE event_id = $1 AND uid = $2
	`, arg.EventID, arg.UID, arg.MarkedAt, arg.Source, arg.DeviceID, arg.DeviceTimestamp)
	return err
}

// ApplySessionToRoster rewrites the projection from the given session's
// presence rows. Used when an existing session is reopened so the cached
// status reflects the session that is actually open.
func (q *Queries) ApplySessionToRoster(ctx context.Context, eventID, sessionID int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE roster r SET
			status = 'Present',
			marked_at = p.marked_at,
			source = p.source,
			device_id = p.device_id,
			device_timestamp = p.device_timestamp
		FROM presence p
		WHERE r.event_id = $1
		  AND p.session_id = $2
		  AND p.event_id = r.event_id
		  AND p.uid = r.uid
	`, eventID, sessionID)
	return err
}

func scanRosterEntry(row pgx.Row) (RosterEntry, error) {
	var e RosterEntry
	err := row.Scan(&e.EventID, &e.UID, &e.Name, &e.Branch, &e.Year, &e.Status, &e.MarkedAt, &e.Source, &e.DeviceID, &e.DeviceTimestamp)
	return e, err
}

func collectRosterEntries(rows pgx.Rows) ([]RosterEntry, error) {
	defer rows.Close()
	var entries []RosterEntry
	for rows.Next() {
		e, err := scanRosterEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sessions

type InsertSessionParams struct {
	EventID  int64
	Name     string
	IsActive bool
}

func (q *Queries) InsertSession(ctx context.Context, arg InsertSessionParams) (Session, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sessions (event_id, session_name, is_active)
		VALUES ($1, $2, $3)
		RETURNING session_id, event_id, session_name, is_active, created_at
	`, arg.EventID, arg.Name, arg.IsActive)
	return scanSession(row)
}

func (q *Queries) GetSession(ctx context.Context, sessionID int64) (Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT session_id, event_id, session_name, is_active, created_at
		FROM sessions WHERE session_id = $1
	`, sessionID)
	return scanSession(row)
}

func (q *Queries) ListSessions(ctx context.Context, eventID int64) ([]Session, error) {
	rows, err := q.db.Query(ctx, `
		SELECT session_id, event_id, session_name, is_active, created_at
		FROM sessions WHERE event_id = $1
		ORDER BY session_id DESC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (q *Queries) ActiveSession(ctx context.Context, eventID int64) (Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT session_id, event_id, session_name, is_active, created_at
		FROM sessions WHERE event_id = $1 AND is_active
		ORDER BY session_id DESC LIMIT 1
	`, eventID)
	return scanSession(row)
}

// ActiveSessionForShare resolves the open session and share-locks its row so
// a concurrent activation transition cannot supersede it under an in-flight
// mark.
func (q *Queries) ActiveSessionForShare(ctx context.Context, eventID int64) (Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT session_id, event_id, session_name, is_active, created_at
		FROM sessions WHERE event_id = $1 AND is_active
		ORDER BY session_id DESC LIMIT 1
		FOR SHARE
	`, eventID)
	return scanSession(row)
}

func (q *Queries) LatestSession(ctx context.Context, eventID int64) (Session, error) {
	row := q.db.QueryRow(ctx, `
		SELECT session_id, event_id, session_name, is_active, created_at
		FROM sessions WHERE event_id = $1
		ORDER BY session_id DESC LIMIT 1
	`, eventID)
	return scanSession(row)
}

func (q *Queries) DeactivateSessions(ctx context.Context, eventID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE event_id = $1`, eventID)
	return err
}

func (q *Queries) ActivateSession(ctx context.Context, sessionID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE sessions SET is_active = TRUE WHERE session_id = $1`, sessionID)
	return err
}

func (q *Queries) DeactivateSession(ctx context.Context, sessionID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE session_id = $1`, sessionID)
	return err
}

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.EventID, &s.Name, &s.IsActive, &s.CreatedAt)
	return s, err
}

// Presence

type InsertPresenceParams struct {
	SessionID       int64
	EventID         int64
	UID             string
	MarkedAt        time.Time
	Source          PresenceSource
	DeviceID        string
	DeviceTimestamp string
}

func (q *Queries) InsertPresence(ctx context.Context, arg InsertPresenceParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO presence (session_id, event_id, uid, marked_at, source, device_id, device_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, arg.SessionID, arg.EventID, arg.UID, arg.MarkedAt, arg.Source, arg.DeviceID, arg.DeviceTimestamp)
	return err
}

func (q *Queries) GetPresence(ctx context.Context, sessionID int64, uid string) (PresenceRecord, error) {
	row := q.db.QueryRow(ctx, `
		SELECT session_id, event_id, uid, marked_at, source, device_id, device_timestamp
		FROM presence WHERE session_id = $1 AND uid = $2
	`, sessionID, uid)
	var p PresenceRecord
	err := row.Scan(&p.SessionID, &p.EventID, &p.UID, &p.MarkedAt, &p.Source, &p.DeviceID, &p.DeviceTimestamp)
	return p, err
}

func (q *Queries) CountPresence(ctx context.Context, sessionID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM presence WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// RosterStatusRows left-joins the full roster against one session's presence
// rows; identifiers without a record come back Absent with empty metadata.
func (q *Queries) RosterStatusRows(ctx context.Context, eventID, sessionID int64) ([]RosterStatusRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT r.uid, r.name, r.branch, r.year,
		       CASE WHEN p.uid IS NULL THEN 'Absent' ELSE 'Present' END AS status,
		       p.marked_at,
		       COALESCE(p.source, '') AS source,
		       COALESCE(p.device_id, '') AS device_id,
		       COALESCE(p.device_timestamp, '') AS device_timestamp
		FROM roster r
		LEFT JOIN presence p
		  ON p.event_id = r.event_id AND p.uid = r.uid AND p.session_id = $2
		WHERE r.event_id = $1
		ORDER BY r.name, r.uid
	`, eventID, sessionID)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}

func (q *Queries) PresentRows(ctx context.Context, eventID, sessionID int64) ([]RosterStatusRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT r.uid, r.name, r.branch, r.year,
		       'Present' AS status,
		       p.marked_at, p.source, p.device_id, p.device_timestamp
		FROM presence p
		JOIN roster r
		  ON r.event_id = p.event_id AND r.uid = p.uid
		WHERE p.event_id = $1 AND p.session_id = $2
		ORDER BY p.marked_at DESC, r.name, r.uid
	`, eventID, sessionID)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}

func (q *Queries) RecentPresence(ctx context.Context, eventID, sessionID int64, limit int32) ([]RosterStatusRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT r.uid, r.name, r.branch, r.year,
		       'Present' AS status,
		       p.marked_at, p.source, p.device_id, p.device_timestamp
		FROM presence p
		JOIN roster r
		  ON r.event_id = p.event_id AND r.uid = p.uid
		WHERE p.event_id = $1 AND p.session_id = $2
		ORDER BY p.marked_at DESC, r.name, r.uid
		LIMIT $3
	`, eventID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}

func (q *Queries) PresenceCountByDevice(ctx context.Context, eventID, sessionID int64) ([]DevicePresenceCount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT device_id, COUNT(*) AS present_count
		FROM presence
		WHERE event_id = $1 AND session_id = $2 AND device_id <> ''
		GROUP BY device_id
	`, eventID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []DevicePresenceCount
	for rows.Next() {
		var c DevicePresenceCount
		if err := rows.Scan(&c.DeviceID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func collectStatusRows(rows pgx.Rows) ([]RosterStatusRow, error) {
	defer rows.Close()
	var out []RosterStatusRow
	for rows.Next() {
		var r RosterStatusRow
		if err := rows.Scan(&r.UID, &r.Name, &r.Branch, &r.Year, &r.Status, &r.MarkedAt, &r.Source, &r.DeviceID, &r.DeviceTimestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Devices

type TouchDeviceParams struct {
	DeviceID    string
	LastSeen    time.Time
	LastEventID pgtype.Int8
	LastIP      string
}

// TouchDevice upserts the heartbeat. A touch without an event keeps the
// previous last_event_id rather than clearing it.
func (q *Queries) TouchDevice(ctx context.Context, arg TouchDeviceParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO devices (device_id, last_seen, last_event_id, last_ip)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			last_event_id = COALESCE(EXCLUDED.last_event_id, devices.last_event_id),
			last_ip = EXCLUDED.last_ip
	`, arg.DeviceID, arg.LastSeen, arg.LastEventID, arg.LastIP)
	return err
}

func (q *Queries) DevicesForEvent(ctx context.Context, eventID int64) ([]DeviceHeartbeat, error) {
	rows, err := q.db.Query(ctx, `
		SELECT device_id, last_seen, last_event_id, last_ip
		FROM devices WHERE last_event_id = $1
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []DeviceHeartbeat
	for rows.Next() {
		var d DeviceHeartbeat
		if err := rows.Scan(&d.DeviceID, &d.LastSeen, &d.LastEventID, &d.LastIP); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
