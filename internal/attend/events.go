package attend

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"scanmark/internal/db"
)

// Registry manages events, the time-boxed occasions sessions and rosters
// hang off of.
type Registry struct {
	store *db.Store
}

func NewRegistry(store *db.Store) *Registry {
	return &Registry{store: store}
}

const defaultSessionName = "Session 1"

// Create inserts an event together with its initial session. The initial
// session is open exactly when the event is, so a closed event does not
// violate the one-open-session rule the moment it is reopened.
func (r *Registry) Create(ctx context.Context, name string, start, end *time.Time, open bool) (db.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return db.Event{}, invalid("event_name is required")
	}
	var evt db.Event
	err := r.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		evt, err = q.CreateEvent(ctx, db.CreateEventParams{
			Name:      name,
			StartTime: pgTime(start),
			EndTime:   pgTime(end),
			IsActive:  open,
		})
		if err != nil {
			return err
		}
		_, err = q.InsertSession(ctx, db.InsertSessionParams{
			EventID:  evt.ID,
			Name:     defaultSessionName,
			IsActive: open,
		})
		return err
	})
	if err != nil {
		return db.Event{}, internal(err)
	}
	return evt, nil
}

func (r *Registry) Get(ctx context.Context, eventID int64) (db.Event, error) {
	evt, err := r.store.Queries.GetEvent(ctx, eventID)
	if err != nil {
		if db.IsNotFound(err) {
			return db.Event{}, notFound(CodeEventNotFound, "event %d not found", eventID)
		}
		return db.Event{}, internal(err)
	}
	return evt, nil
}

func (r *Registry) List(ctx context.Context, activeOnly bool) ([]db.Event, error) {
	events, err := r.store.Queries.ListEvents(ctx, activeOnly)
	if err != nil {
		return nil, internal(err)
	}
	return events, nil
}

// SetOpen flips the event flag. Closing never touches sessions; history and
// the open-session state stay as they are. Opening guarantees an open
// session exists afterward.
func (r *Registry) SetOpen(ctx context.Context, eventID int64, open bool) error {
	if !open {
		rows, err := r.store.Queries.SetEventActive(ctx, eventID, false)
		if err != nil {
			return internal(err)
		}
		if rows == 0 {
			return notFound(CodeEventNotFound, "event %d not found", eventID)
		}
		return nil
	}
	err := r.store.WithTx(ctx, func(q *db.Queries) error {
		rows, err := q.SetEventActive(ctx, eventID, true)
		if err != nil {
			return err
		}
		if rows == 0 {
			return notFound(CodeEventNotFound, "event %d not found", eventID)
		}
		_, err = ensureDefaultSession(ctx, q, eventID)
		return err
	})
	if err != nil {
		if isSessionRace(err) {
			// Lost the activation race to a concurrent writer; an open
			// session exists, which is all this call guarantees.
			return nil
		}
		if _, ok := AsError(err); ok {
			return err
		}
		return internal(err)
	}
	return nil
}

func pgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}
