package attend

import (
	"context"
	"strings"

	"scanmark/internal/db"
)

// Roster holds the set of enrollable identifiers per event, plus the
// denormalized last-status projection. The presence ledger stays
// authoritative; the projection is a read optimization that is reset when a
// new session starts and rewritten when a record lands.
type Roster struct {
	store *db.Store
}

func NewRoster(store *db.Store) *Roster {
	return &Roster{store: store}
}

// ImportRow is one roster row as delivered by the import adapter. Branch
// and year are optional classification fields.
type ImportRow struct {
	UID    string
	Name   string
	Branch string
	Year   string
}

func (r ImportRow) normalize() (ImportRow, bool) {
	r.UID = strings.TrimSpace(r.UID)
	r.Name = strings.TrimSpace(r.Name)
	r.Branch = strings.TrimSpace(r.Branch)
	r.Year = strings.TrimSpace(r.Year)
	return r, r.UID != "" && r.Name != ""
}

// Upsert inserts or replaces one entry, reverting it to unmarked.
func (r *Roster) Upsert(ctx context.Context, eventID int64, row ImportRow) error {
	row, ok := row.normalize()
	if !ok {
		return invalid("uid and name are required")
	}
	err := r.store.Queries.UpsertRosterEntry(ctx, db.UpsertRosterEntryParams{
		EventID: eventID,
		UID:     row.UID,
		Name:    row.Name,
		Branch:  row.Branch,
		Year:    row.Year,
	})
	if err != nil {
		return internal(err)
	}
	return nil
}

// Import loads rows one at a time. Malformed rows are skipped rather than
// failing the batch; the batch is not atomic across rows, so the returned
// count is the caller's record of how far a partial import got.
func (r *Roster) Import(ctx context.Context, eventID int64, rows []ImportRow) (int, error) {
	if _, err := r.store.Queries.GetEvent(ctx, eventID); err != nil {
		if db.IsNotFound(err) {
			return 0, notFound(CodeEventNotFound, "event %d not found", eventID)
		}
		return 0, internal(err)
	}
	imported := 0
	for _, row := range rows {
		row, ok := row.normalize()
		if !ok {
			continue
		}
		err := r.store.Queries.UpsertRosterEntry(ctx, db.UpsertRosterEntryParams{
			EventID: eventID,
			UID:     row.UID,
			Name:    row.Name,
			Branch:  row.Branch,
			Year:    row.Year,
		})
		if err != nil {
			return imported, internal(err)
		}
		imported++
	}
	return imported, nil
}

func (r *Roster) Lookup(ctx context.Context, eventID int64, uid string) (db.RosterEntry, error) {
	entry, err := r.store.Queries.GetRosterEntry(ctx, eventID, strings.TrimSpace(uid))
	if err != nil {
		if db.IsNotFound(err) {
			return db.RosterEntry{}, notFound(CodeUnknownUID, "uid %q not on roster", uid)
		}
		return db.RosterEntry{}, internal(err)
	}
	return entry, nil
}

// List returns the event's roster ordered by name then identifier.
func (r *Roster) List(ctx context.Context, eventID int64) ([]db.RosterEntry, error) {
	entries, err := r.store.Queries.ListRoster(ctx, eventID)
	if err != nil {
		return nil, internal(err)
	}
	return entries, nil
}

// Search matches a substring of name or identifier.
func (r *Roster) Search(ctx context.Context, eventID int64, query string) ([]db.RosterEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	entries, err := r.store.Queries.SearchRoster(ctx, eventID, query)
	if err != nil {
		return nil, internal(err)
	}
	return entries, nil
}

// ResetAllStatus clears the projection for every entry of the event.
// Presence history is untouched.
func (r *Roster) ResetAllStatus(ctx context.Context, eventID int64) error {
	if err := r.store.Queries.ResetRosterStatus(ctx, eventID); err != nil {
		return internal(err)
	}
	return nil
}
