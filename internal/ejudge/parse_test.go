package ejudge

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCellTimeConvertsToDisplayZone(t *testing.T) {
	got, err := parseCellTime("time", "2026/03/15 12:00:00", time.UTC)
	if err != nil {
		t.Fatalf("parseCellTime: %v", err)
	}
	want := time.Date(2026, 3, 15, 15, 0, 0, 0, displayLocation)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got.Location() != displayLocation {
		t.Fatalf("got location %v, want %v", got.Location(), displayLocation)
	}
}

func TestParseCellTimeNilLocationMeansUTC(t *testing.T) {
	explicit, err := parseCellTime("time", "2026-03-15 12:00:00", time.UTC)
	if err != nil {
		t.Fatalf("parseCellTime explicit: %v", err)
	}
	implicit, err := parseCellTime("time", "2026-03-15 12:00:00", nil)
	if err != nil {
		t.Fatalf("parseCellTime implicit: %v", err)
	}
	if !explicit.Equal(implicit) {
		t.Fatalf("nil location diverged: %v vs %v", implicit, explicit)
	}
}

func TestParseCellTimeDeterministic(t *testing.T) {
	loc := time.FixedZone("SRV+05", 5*3600)
	first, err := parseCellTime("time", "2026-01-02 08:30:00", loc)
	if err != nil {
		t.Fatalf("parseCellTime: %v", err)
	}
	second, err := parseCellTime("time", "2026-01-02 08:30:00", loc)
	if err != nil {
		t.Fatalf("parseCellTime again: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("same input produced %v then %v", first, second)
	}
}

func TestParseCellTimeRejectsGarbage(t *testing.T) {
	_, err := parseCellTime("time", "yesterday", time.UTC)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("want ParseError, got %v", err)
	}
	if parseErr.Field != "time" || parseErr.Raw != "yesterday" {
		t.Fatalf("error does not name offending cell: %+v", parseErr)
	}
}

func TestParseClarFlag(t *testing.T) {
	for raw, want := range map[string]string{"": "", " N ": "N", "A": "A"} {
		got, err := parseClarFlag("flags", raw)
		if err != nil {
			t.Fatalf("parseClarFlag(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseClarFlag(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := parseClarFlag("flags", "NO"); err == nil {
		t.Fatal("multi-character flag accepted")
	}
}

func TestDecodeCellTextRepairsWindows1251(t *testing.T) {
	// "тест" in windows-1251 bytes, invalid as UTF-8.
	raw := string([]byte{0xf2, 0xe5, 0xf1, 0xf2})
	got := decodeCellText(raw)
	if got != "тест" {
		t.Fatalf("got %q, want %q", got, "тест")
	}
}

func TestDecodeCellTextPassesValidUTF8(t *testing.T) {
	if got := decodeCellText("plain ascii"); got != "plain ascii" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeBase64Payload(t *testing.T) {
	if got := decodeBase64Payload("aGVsbG8="); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	got := decodeBase64Payload("%%%not base64")
	if !strings.HasPrefix(got, "Cannot decode compiler output:") {
		t.Fatalf("malformed payload did not downgrade: %q", got)
	}
}

func TestParseOptionalInt(t *testing.T) {
	for _, raw := range []string{"", "  ", "N/A"} {
		got, err := parseOptionalInt("score", raw)
		if err != nil || got != nil {
			t.Fatalf("parseOptionalInt(%q) = %v, %v", raw, got, err)
		}
	}
	got, err := parseOptionalInt("score", " 42 ")
	if err != nil || got == nil || *got != 42 {
		t.Fatalf("parseOptionalInt(42) = %v, %v", got, err)
	}
	if _, err := parseOptionalInt("score", "forty"); err == nil {
		t.Fatal("non-numeric cell accepted")
	}
}
