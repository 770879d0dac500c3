package uploads

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveOpenRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	token, err := store.Save(bytes.NewReader([]byte("workbook-bytes")))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	f, err := store.Open(token)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "workbook-bytes" {
		t.Fatalf("round trip mismatch: %q", data)
	}

	if err := store.Remove(token); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Open(token); err == nil {
		t.Fatalf("expected error after remove")
	}
	if err := store.Remove(token); err != nil {
		t.Fatalf("double remove must be a no-op, got %v", err)
	}
}

func TestOpenRejectsBadToken(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, token := range []string{"", "../../etc/passwd", "not-a-uuid"} {
		if _, err := store.Open(token); err == nil {
			t.Fatalf("expected rejection for token %q", token)
		}
	}
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	stale, err := store.Save(bytes.NewReader([]byte("old")))
	if err != nil {
		t.Fatalf("save stale: %v", err)
	}
	fresh, err := store.Save(bytes.NewReader([]byte("new")))
	if err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, filePrefix+stale+fileSuffix), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := store.CleanupStale(time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Open(stale); err == nil {
		t.Fatalf("stale upload must be gone")
	}
	if f, err := store.Open(fresh); err != nil {
		t.Fatalf("fresh upload must survive: %v", err)
	} else {
		f.Close()
	}
}
