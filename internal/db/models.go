package db

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// PresenceSource classifies how a presence record came to exist.
type PresenceSource string

const (
	SourceImported PresenceSource = "Imported"
	SourceScanned  PresenceSource = "Scanned"
	SourceManual   PresenceSource = "Manual"
)

// RosterStatus is the denormalized projection value cached on a roster
// entry. The presence ledger is the source of truth; this only mirrors the
// currently open session.
type RosterStatus string

const (
	StatusAbsent  RosterStatus = "Absent"
	StatusPresent RosterStatus = "Present"
)

type Event struct {
	ID        int64
	Name      string
	StartTime pgtype.Timestamptz
	EndTime   pgtype.Timestamptz
	IsActive  bool
	CreatedAt time.Time
}

type RosterEntry struct {
	EventID         int64
	UID             string
	Name            string
	Branch          string
	Year            string
	Status          RosterStatus
	MarkedAt        pgtype.Timestamptz
	Source          PresenceSource
	DeviceID        string
	DeviceTimestamp string
}

type Session struct {
	ID        int64
	EventID   int64
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type PresenceRecord struct {
	SessionID       int64
	EventID         int64
	UID             string
	MarkedAt        time.Time
	Source          PresenceSource
	DeviceID        string
	DeviceTimestamp string
}

type DeviceHeartbeat struct {
	DeviceID    string
	LastSeen    time.Time
	LastEventID pgtype.Int8
	LastIP      string
}

// RosterStatusRow is one row of the roster-against-session join used by the
// live table and the export. Absent rows carry zero MarkedAt and empty
// Source/DeviceID.
type RosterStatusRow struct {
	UID             string
	Name            string
	Branch          string
	Year            string
	Status          RosterStatus
	MarkedAt        pgtype.Timestamptz
	Source          string
	DeviceID        string
	DeviceTimestamp string
}

type DevicePresenceCount struct {
	DeviceID string
	Count    int64
}
