package timefmt

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"2d", 48 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{"3h30m", 3*time.Hour + 30*time.Minute},
		{"45m", 45 * time.Minute},
		{"1d 2h 3m", 26*time.Hour + 3*time.Minute},
		{"", 0},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"abc", "2x", "1h2d"} {
		if _, err := ParseDuration(in); err == nil {
			t.Errorf("ParseDuration(%q) should fail", in)
		}
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	for _, in := range []string{"2d", "1d12h", "3h30m", "45m", "2d3h4m"} {
		d, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got := FormatDuration(d); got != in {
			t.Errorf("FormatDuration(ParseDuration(%q)) = %q", in, got)
		}
	}
	if got := FormatDuration(0); got != "" {
		t.Errorf("the zero duration should render empty, got %q", got)
	}
}

func TestParseDatetime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	got, err := ParseDatetime("Apr 01, 2026 11:59PM", loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, time.April, 1, 23, 59, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("ParseDatetime = %v, want %v", got, want)
	}

	// RFC 3339 input carries its own zone; loc must not override it.
	got, err = ParseDatetime("2026-04-01T23:59:00-04:00", loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("RFC 3339 parse = %v, want %v", got, want)
	}

	if _, err := ParseDatetime("next tuesday", loc); err == nil {
		t.Fatal("expected an error for an unrecognized datetime")
	}
}

func TestFormatDatetime(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	instant := time.Date(2026, time.April, 2, 3, 59, 0, 0, time.UTC)
	if got := FormatDatetime(instant, loc); got != "Apr 01, 2026 11:59PM" {
		t.Fatalf("FormatDatetime = %q", got)
	}
}

func TestClockRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12:00AM", "12:00AM"},
		{"8:30PM", "08:30PM"},
		{"20:30", "08:30PM"},
		{"00:00:00", "12:00AM"},
	}
	for _, tc := range cases {
		parsed, err := ParseClock(tc.in)
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tc.in, err)
			continue
		}
		if got := FormatClock(parsed); got != tc.want {
			t.Errorf("FormatClock(ParseClock(%q)) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := ParseClock("midnight"); err == nil {
		t.Fatal("expected an error for an unrecognized clock value")
	}
}

func TestLoadTimezone(t *testing.T) {
	if _, err := LoadTimezone("America/Detroit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := LoadTimezone(""); err == nil {
		t.Fatal("the empty timezone must be rejected")
	}
	if _, err := LoadTimezone("Mars/OlympusMons"); err == nil {
		t.Fatal("an unknown timezone must be rejected")
	}
}
