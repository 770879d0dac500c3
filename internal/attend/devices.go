package attend

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"scanmark/internal/db"
)

// DeviceTracker records last-seen heartbeats per capture device. Liveness
// is independent of session boundaries and of whether the operation that
// carried the heartbeat succeeded.
type DeviceTracker struct {
	store *db.Store
}

func NewDeviceTracker(store *db.Store) *DeviceTracker {
	return &DeviceTracker{store: store}
}

// DeviceStatus is one row of the liveness view.
type DeviceStatus struct {
	DeviceID     string    `json:"device_id"`
	PresentCount int64     `json:"present_count"`
	LastSeen     time.Time `json:"last_seen"`
	LastIP       string    `json:"last_ip"`
	Online       bool      `json:"online"`
}

// Touch upserts the heartbeat. Empty device ids are a no-op; a touch
// without an event id keeps the previously known event.
func (t *DeviceTracker) Touch(ctx context.Context, deviceID, origin string, eventID *int64) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	var lastEvent pgtype.Int8
	if eventID != nil {
		lastEvent = pgtype.Int8{Int64: *eventID, Valid: true}
	}
	err := t.store.Queries.TouchDevice(ctx, db.TouchDeviceParams{
		DeviceID:    deviceID,
		LastSeen:    time.Now().UTC(),
		LastEventID: lastEvent,
		LastIP:      origin,
	})
	if err != nil {
		return internal(err)
	}
	return nil
}

// Liveness lists devices attached to the event with their per-session
// present counts: online devices first, then busiest scanners, then id.
func (t *DeviceTracker) Liveness(ctx context.Context, eventID, sessionID int64, window time.Duration) ([]DeviceStatus, error) {
	counts, err := t.store.Queries.PresenceCountByDevice(ctx, eventID, sessionID)
	if err != nil {
		return nil, internal(err)
	}
	devices, err := t.store.Queries.DevicesForEvent(ctx, eventID)
	if err != nil {
		return nil, internal(err)
	}
	return mergeDeviceStats(counts, devices, window, time.Now().UTC()), nil
}

// mergeDeviceStats unions devices seen in heartbeats with devices that
// produced presence rows (a device can appear in either alone), computes
// the online flag against the window, and applies the surfacing order.
func mergeDeviceStats(counts []db.DevicePresenceCount, devices []db.DeviceHeartbeat, window time.Duration, now time.Time) []DeviceStatus {
	byID := make(map[string]*DeviceStatus)
	for _, c := range counts {
		byID[c.DeviceID] = &DeviceStatus{DeviceID: c.DeviceID, PresentCount: c.Count}
	}
	for _, d := range devices {
		st, ok := byID[d.DeviceID]
		if !ok {
			st = &DeviceStatus{DeviceID: d.DeviceID}
			byID[d.DeviceID] = st
		}
		st.LastSeen = d.LastSeen
		st.LastIP = d.LastIP
		st.Online = !d.LastSeen.IsZero() && now.Sub(d.LastSeen) <= window
	}
	out := make([]DeviceStatus, 0, len(byID))
	for _, st := range byID {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		if out[i].PresentCount != out[j].PresentCount {
			return out[i].PresentCount > out[j].PresentCount
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}
