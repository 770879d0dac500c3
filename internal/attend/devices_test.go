package attend

import (
	"testing"
	"time"

	"scanmark/internal/db"
)

func TestMergeDeviceStatsOrdering(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	counts := []db.DevicePresenceCount{
		{DeviceID: "gate-a", Count: 5},
		{DeviceID: "gate-b", Count: 9},
		{DeviceID: "gate-c", Count: 9},
		{DeviceID: "ghost", Count: 2},
	}
	devices := []db.DeviceHeartbeat{
		{DeviceID: "gate-a", LastSeen: now.Add(-10 * time.Second), LastIP: "10.0.0.1"},
		{DeviceID: "gate-b", LastSeen: now.Add(-5 * time.Minute), LastIP: "10.0.0.2"},
		{DeviceID: "gate-c", LastSeen: now.Add(-30 * time.Second), LastIP: "10.0.0.3"},
		{DeviceID: "idle", LastSeen: now.Add(-2 * time.Second), LastIP: "10.0.0.4"},
	}

	out := mergeDeviceStats(counts, devices, window, now)
	if len(out) != 5 {
		t.Fatalf("expected 5 devices, got %d", len(out))
	}

	order := make([]string, len(out))
	for i, st := range out {
		order[i] = st.DeviceID
	}
	// Online first, then count desc, then id asc. "ghost" has marks but no
	// heartbeat; "idle" has a heartbeat but no marks.
	want := []string{"gate-c", "gate-a", "idle", "gate-b", "ghost"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %v", i, want[i], order)
		}
	}

	for _, st := range out {
		switch st.DeviceID {
		case "gate-c", "gate-a", "idle":
			if !st.Online {
				t.Fatalf("expected %s online", st.DeviceID)
			}
		default:
			if st.Online {
				t.Fatalf("expected %s offline", st.DeviceID)
			}
		}
	}

	for _, st := range out {
		if st.DeviceID == "ghost" && st.PresentCount != 2 {
			t.Fatalf("expected ghost count 2, got %d", st.PresentCount)
		}
		if st.DeviceID == "idle" && st.PresentCount != 0 {
			t.Fatalf("expected idle count 0, got %d", st.PresentCount)
		}
	}
}

func TestMergeDeviceStatsEmpty(t *testing.T) {
	out := mergeDeviceStats(nil, nil, time.Minute, time.Now())
	if len(out) != 0 {
		t.Fatalf("expected empty, got %d", len(out))
	}
}

func TestMergeDeviceStatsZeroLastSeen(t *testing.T) {
	devices := []db.DeviceHeartbeat{{DeviceID: "blank"}}
	out := mergeDeviceStats(nil, devices, time.Hour, time.Time{})
	if len(out) != 1 {
		t.Fatalf("expected 1 device, got %d", len(out))
	}
	if out[0].Online {
		t.Fatalf("zero last_seen must never read online")
	}
}
