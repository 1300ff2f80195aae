package envelope

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-03-01T12:00:00Z":             time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"2024-03-01T14:00:00+02:00":        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"2024-03-01T12:00:00.5Z":           time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC),
		"2024-03-01T12:00:00.123456":       time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC),
		"2024-03-01T12:00:00":              time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"2024-03-01 12:00:00.25":           time.Date(2024, 3, 1, 12, 0, 0, 250000000, time.UTC),
		"2024-03-01T12:00:00.123456+00:00": time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC),
	}
	for raw, want := range cases {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for non ISO-8601 text")
	}
}

func TestTimestampJSON(t *testing.T) {
	ts := At(time.Date(2024, 3, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600)))
	raw, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"2024-03-01T12:00:00Z"` {
		t.Fatalf("expected UTC RFC 3339, got %s", raw)
	}

	var back Timestamp
	if err := json.Unmarshal([]byte(`"2024-03-01T12:00:00"`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(ts.Time) {
		t.Fatalf("expected %s, got %s", ts.Time, back.Time)
	}
	if err := json.Unmarshal([]byte(`1709294400`), &back); err == nil {
		t.Fatalf("expected error for numeric timestamp")
	}
}
