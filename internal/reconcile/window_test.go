package reconcile

import (
	"testing"
	"time"
)

func atTime(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestParseActiveWindow_Invalid(t *testing.T) {
	cases := []struct{ start, end string }{
		{"", "19:00"},
		{"07:00", ""},
		{"7am", "19:00"},
		{"07:00", "25:00"},
		{"07:61", "19:00"},
	}
	for _, c := range cases {
		if _, err := ParseActiveWindow(c.start, c.end); err == nil {
			t.Errorf("ParseActiveWindow(%q, %q) should fail", c.start, c.end)
		}
	}
}

func TestActiveWindow_Bounds(t *testing.T) {
	w, err := ParseActiveWindow("07:00", "19:00")
	if err != nil {
		t.Fatalf("ParseActiveWindow failed: %v", err)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{atTime(6, 59), false},
		{atTime(7, 0), true}, // start inclusive
		{atTime(12, 30), true},
		{atTime(18, 59), true},
		{atTime(19, 0), false}, // end exclusive
		{atTime(23, 0), false},
	}
	for _, c := range cases {
		if got := w.Contains(c.at); got != c.want {
			t.Errorf("Contains(%s) = %v, want %v", c.at.Format("15:04"), got, c.want)
		}
	}
}

func TestActiveWindow_WrapsMidnight(t *testing.T) {
	w, err := ParseActiveWindow("22:00", "06:00")
	if err != nil {
		t.Fatalf("ParseActiveWindow failed: %v", err)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{atTime(21, 59), false},
		{atTime(22, 0), true},
		{atTime(23, 30), true},
		{atTime(0, 0), true},
		{atTime(5, 59), true},
		{atTime(6, 0), false},
		{atTime(12, 0), false},
	}
	for _, c := range cases {
		if got := w.Contains(c.at); got != c.want {
			t.Errorf("Contains(%s) = %v, want %v", c.at.Format("15:04"), got, c.want)
		}
	}
}
