package attend

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindAndCode(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
		code string
	}{
		{notFound(CodeEventNotFound, "event %d not found", 7), KindNotFound, CodeEventNotFound},
		{conflict(CodeAlreadyMarked, "already marked"), KindConflict, CodeAlreadyMarked},
		{invalid("uid is required"), KindInvalid, CodeMissingFields},
		{newError(KindUnauthorized, CodeUnauthorized, "bad token"), KindUnauthorized, CodeUnauthorized},
		{internal(errors.New("boom")), KindInternal, CodeInternal},
	}
	for _, tc := range cases {
		if KindOf(tc.err) != tc.kind {
			t.Fatalf("%v: expected kind %d, got %d", tc.err, tc.kind, KindOf(tc.err))
		}
		if CodeOf(tc.err) != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, CodeOf(tc.err))
		}
	}
}

func TestErrorWrapped(t *testing.T) {
	err := fmt.Errorf("mark failed: %w", conflict(CodeEventClosed, "event is closed"))
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict through wrapping, got %d", KindOf(err))
	}
	if CodeOf(err) != CodeEventClosed {
		t.Fatalf("expected %s, got %s", CodeEventClosed, CodeOf(err))
	}
	e, ok := AsError(err)
	if !ok || e.Code != CodeEventClosed {
		t.Fatalf("AsError failed to unwrap")
	}
}

func TestUnrecognizedErrorIsInternal(t *testing.T) {
	err := errors.New("plain")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal for plain errors")
	}
	if CodeOf(err) != CodeInternal {
		t.Fatalf("expected %s for plain errors", CodeInternal)
	}
	if _, ok := AsError(err); ok {
		t.Fatalf("AsError must reject plain errors")
	}
}

func TestImportRowNormalize(t *testing.T) {
	row, ok := ImportRow{UID: "  U1 ", Name: " Ada ", Branch: " CS ", Year: " 3 "}.normalize()
	if !ok {
		t.Fatalf("expected valid row")
	}
	if row.UID != "U1" || row.Name != "Ada" || row.Branch != "CS" || row.Year != "3" {
		t.Fatalf("expected trimmed fields, got %+v", row)
	}
	if _, ok := (ImportRow{UID: "U1"}).normalize(); ok {
		t.Fatalf("row without name must be invalid")
	}
	if _, ok := (ImportRow{Name: "Ada"}).normalize(); ok {
		t.Fatalf("row without uid must be invalid")
	}
	if _, ok := (ImportRow{UID: "   ", Name: "Ada"}).normalize(); ok {
		t.Fatalf("whitespace uid must be invalid")
	}
}
