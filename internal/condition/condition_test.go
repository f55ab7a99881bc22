package condition

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Condition
	}{
		{name: "empty", raw: "", want: NotInspected},
		{name: "whitespace", raw: "   ", want: NotInspected},
		{name: "single word passthrough", raw: "Good", want: Good},
		{name: "single word trimmed", raw: "  Excellent  ", want: Excellent},
		{name: "pair in order", raw: "Fair, Poor", want: FairPoor},
		{name: "pair reversed", raw: "Poor, Fair", want: FairPoor},
		{name: "pair with spacing", raw: " good ,  fair ", want: GoodFair},
		{name: "missing collapses to poor", raw: "Good, Missing", want: Poor},
		{name: "missing first", raw: "Missing, Excellent", want: Poor},
		{name: "growth pair", raw: "Moderate, Heavy", want: "moderate-heavy"},
		{name: "growth pair reversed", raw: "Heavy, Minimal", want: "minimal-heavy"},
		{name: "unknown token sorts last", raw: "gouged, fair", want: "fair-gouged"},
		{name: "dangling comma", raw: "fair,", want: Fair},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.raw); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"", "Good", "Fair, Poor", "Poor, Fair", "Good, Missing", "Heavy, Minimal", "not-inspected"}
	for _, raw := range inputs {
		once := Normalize(raw)
		twice := Normalize(string(once))
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: first %q, second %q", raw, once, twice)
		}
	}
}

func TestFromPercent(t *testing.T) {
	cases := []struct {
		percent int
		want    Condition
	}{
		{95, Excellent},
		{90, Excellent},
		{89, Good},
		{85, Good},
		{80, Good},
		{79, Fair},
		{65, Fair},
		{60, Fair},
		{59, Poor},
		{10, Poor},
		{0, Poor},
	}
	for _, tc := range cases {
		if got := FromPercent(tc.percent); got != tc.want {
			t.Fatalf("FromPercent(%d) = %q, want %q", tc.percent, got, tc.want)
		}
	}
}

func TestSeverityOf(t *testing.T) {
	cases := []struct {
		condition Condition
		want      int
	}{
		{NotInspected, 0},
		{Excellent, 1},
		{ExcellentGood, 2},
		{Good, 3},
		{GoodFair, 4},
		{Fair, 5},
		{FairPoor, 6},
		{Poor, 7},
		{VeryPoor, 8},
		{"heavy", 7},
		{"minimal", 2},
		{"moderate-heavy", 7},
		{"someday-maybe", 4}, // unknown defaults to the fair band
		{"", 4},
	}
	for _, tc := range cases {
		if got := SeverityOf(tc.condition); got != tc.want {
			t.Fatalf("SeverityOf(%q) = %d, want %d", tc.condition, got, tc.want)
		}
	}
}

func TestUrgency(t *testing.T) {
	cases := []struct {
		name      string
		condition Condition
		days      int
		status    Status
		urgency   Level
		isDue     bool
	}{
		{name: "excellent fresh", condition: Excellent, days: 10, status: StatusGood, urgency: LevelLow, isDue: false},
		{name: "excellent at 179 days", condition: Excellent, days: 179, status: StatusGood, urgency: LevelLow, isDue: false},
		{name: "excellent-good at 200 days", condition: ExcellentGood, days: 200, status: StatusGood, urgency: LevelLow, isDue: false},
		{name: "good fresh", condition: Good, days: 0, status: StatusDueSoon, urgency: LevelMedium, isDue: true},
		{name: "good-fair", condition: GoodFair, days: 30, status: StatusDueSoon, urgency: LevelMedium, isDue: true},
		{name: "fair fresh is past due", condition: Fair, days: 0, status: StatusPastDue, urgency: LevelHigh, isDue: true},
		{name: "poor fresh", condition: Poor, days: 0, status: StatusPastDue, urgency: LevelHigh, isDue: true},
		{name: "very poor recent", condition: VeryPoor, days: 100, status: StatusPastDue, urgency: LevelHigh, isDue: true},
		// Past a year the elapsed-time rule takes over, whatever the grade:
		// a reading that old says nothing about the hull today.
		{name: "very poor old", condition: VeryPoor, days: 700, status: StatusDueSoon, urgency: LevelMedium, isDue: true},
		// Time alone forces a re-inspection even for the best grades.
		{name: "excellent at 400 days", condition: Excellent, days: 400, status: StatusDueSoon, urgency: LevelMedium, isDue: true},
		{name: "not inspected at 365 days", condition: NotInspected, days: 365, status: StatusDueSoon, urgency: LevelMedium, isDue: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Urgency(tc.condition, tc.days)
			if got.Status != tc.status {
				t.Fatalf("Urgency(%q, %d).Status = %q, want %q", tc.condition, tc.days, got.Status, tc.status)
			}
			if got.Urgency != tc.urgency {
				t.Fatalf("Urgency(%q, %d).Urgency = %q, want %q", tc.condition, tc.days, got.Urgency, tc.urgency)
			}
			if got.IsDue != tc.isDue {
				t.Fatalf("Urgency(%q, %d).IsDue = %v, want %v", tc.condition, tc.days, got.IsDue, tc.isDue)
			}
			if got.Message == "" {
				t.Fatalf("Urgency(%q, %d) returned empty message", tc.condition, tc.days)
			}
		})
	}
}

func TestIsRecentlyReplaced(t *testing.T) {
	day := func(value string) time.Time {
		parsed, err := time.Parse("2006-01-02", value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		return parsed
	}

	if !IsRecentlyReplaced(day("2024-01-01"), day("2024-01-20")) {
		t.Fatalf("expected 19 days apart to count as recently replaced")
	}
	if IsRecentlyReplaced(day("2024-01-01"), day("2024-03-01")) {
		t.Fatalf("expected 60 days apart to not count as recently replaced")
	}
	if !IsRecentlyReplaced(day("2024-01-31"), day("2024-01-01")) {
		t.Fatalf("expected the check to be symmetric")
	}
	if !IsRecentlyReplaced(day("2024-01-01"), day("2024-01-31")) {
		t.Fatalf("expected exactly 30 days apart to count")
	}
}

func TestLabel(t *testing.T) {
	cases := []struct {
		condition Condition
		want      string
	}{
		{NotInspected, "Not Inspected"},
		{Excellent, "Excellent"},
		{FairPoor, "Fair - Poor"},
		{VeryPoor, "Very Poor"},
		{"", "Not Inspected"},
	}
	for _, tc := range cases {
		if got := Label(tc.condition); got != tc.want {
			t.Fatalf("Label(%q) = %q, want %q", tc.condition, got, tc.want)
		}
	}
}
