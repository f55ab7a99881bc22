// Package condition normalizes raw inspection readings (paint, growth, anode)
// into a canonical severity scale and derives user-facing urgency verdicts.
// Every function here is total: malformed input degrades to a safe default so
// display code never has to handle an error.
package condition

import (
	"sort"
	"strings"
	"time"
)

// Condition is a canonical condition token: a single grade
// ("excellent", "poor", ...) or a hyphenated two-grade range ordered
// better-to-worse ("fair-poor").
type Condition string

const (
	NotInspected  Condition = "not-inspected"
	Excellent     Condition = "excellent"
	ExcellentGood Condition = "excellent-good"
	Good          Condition = "good"
	GoodFair      Condition = "good-fair"
	Fair          Condition = "fair"
	FairPoor      Condition = "fair-poor"
	Poor          Condition = "poor"
	VeryPoor      Condition = "very-poor"
)

// severityRanks orders grades best (0) to worst (8). Growth readings use a
// three-point scale (minimal/moderate/heavy) folded into the same numbering
// so ranges can compress across both vocabularies.
var severityRanks = map[string]int{
	"not-inspected":  0,
	"excellent":      1,
	"excellent-good": 2,
	"good":           3,
	"good-fair":      4,
	"fair":           5,
	"fair-poor":      6,
	"poor":           7,
	"very-poor":      8,

	"minimal":  2,
	"moderate": 4,
	"heavy":    7,
}

// unknownRank sorts unrecognized tokens last so they read as worst-unknown.
const unknownRank = 99

func rankOf(token string) int {
	if rank, ok := severityRanks[token]; ok {
		return rank
	}
	return unknownRank
}

// Normalize maps a raw condition value to its canonical form.
//
// Blank input means the item was never inspected. Single-word input is
// trusted as already canonical (trimmed and lower-cased). A comma-separated
// pair like "Fair, Poor" becomes the range "fair-poor", always ordered
// better-to-worse regardless of input order. A pair containing "missing"
// collapses to "poor". Normalize is idempotent.
func Normalize(raw string) Condition {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return NotInspected
	}
	if !strings.Contains(trimmed, ",") {
		return Condition(trimmed)
	}

	parts := strings.Split(trimmed, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		if token == "missing" {
			return Poor
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return NotInspected
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		return rankOf(tokens[i]) < rankOf(tokens[j])
	})
	return Condition(strings.Join(tokens, "-"))
}

// FromPercent maps an anode percentage reading to a discrete grade.
// Bands are inclusive on their lower bound; input is assumed pre-clamped
// to 0..100 by the caller.
func FromPercent(percent int) Condition {
	switch {
	case percent >= 90:
		return Excellent
	case percent >= 80:
		return Good
	case percent >= 60:
		return Fair
	default:
		return Poor
	}
}

// SeverityOf returns the 0 (best) to 8 (worst) rank for a canonical
// condition. Range tokens rank by their worse half. Unknown conditions rank
// as "good-fair" (4) so urgency math stays total instead of erroring.
func SeverityOf(c Condition) int {
	token := strings.ToLower(strings.TrimSpace(string(c)))
	if rank, ok := severityRanks[token]; ok {
		return rank
	}
	// Two-grade range: the worse (last) half decides.
	if idx := strings.LastIndex(token, "-"); idx > 0 {
		if rank, ok := severityRanks[token[idx+1:]]; ok {
			return rank
		}
	}
	return 4
}

// Status is the urgency bucket shown to the customer.
type Status string

const (
	StatusGood    Status = "good"
	StatusDueSoon Status = "due-soon"
	StatusPastDue Status = "past-due"
)

// Level grades how loudly the UI should flag a verdict.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Verdict is the derived urgency read-out for one reading. It is recomputed
// on every read; nothing here is persisted.
type Verdict struct {
	IsDue   bool   `json:"isDue"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Urgency Level  `json:"urgency"`
}

// Urgency derives a verdict from a condition and the days elapsed since the
// reading was taken. Rules are evaluated in fixed priority order, first
// match wins.
//
// Note the third rule fires on elapsed time alone: a severity-0 reading
// still comes due once 365 days pass. That is deliberate re-inspection
// policy, not an ordering accident.
func Urgency(c Condition, daysSinceInspection int) Verdict {
	severity := SeverityOf(c)
	switch {
	case severity <= 1 && daysSinceInspection < 180:
		return Verdict{
			IsDue:   false,
			Status:  StatusGood,
			Message: "No action needed.",
			Urgency: LevelLow,
		}
	case severity <= 2 && daysSinceInspection < 365:
		return Verdict{
			IsDue:   false,
			Status:  StatusGood,
			Message: "Monitor and recheck in 3-6 months.",
			Urgency: LevelLow,
		}
	case severity <= 4 || daysSinceInspection >= 365:
		return Verdict{
			IsDue:   true,
			Status:  StatusDueSoon,
			Message: "Plan a haul-out within 6 months.",
			Urgency: LevelMedium,
		}
	default:
		return Verdict{
			IsDue:   true,
			Status:  StatusPastDue,
			Message: "Schedule a haul-out now.",
			Urgency: LevelHigh,
		}
	}
}

// IsRecentlyReplaced reports whether a reading was taken within 30 days of a
// service visit, in either direction. Used to annotate anode readings as
// "replaced" rather than "inspected".
func IsRecentlyReplaced(checkedAt, servicedAt time.Time) bool {
	diff := checkedAt.Sub(servicedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 30*24*time.Hour
}

// Label renders a condition for display ("fair-poor" -> "Fair - Poor").
// "not-inspected" and "very-poor" are single grades, not ranges.
func Label(c Condition) string {
	token := strings.TrimSpace(string(c))
	if token == "" {
		token = string(NotInspected)
	}
	words := strings.Split(token, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	if Condition(token) == NotInspected || Condition(token) == VeryPoor {
		return strings.Join(words, " ")
	}
	return strings.Join(words, " - ")
}
