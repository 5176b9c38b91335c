package kioku

import "time"

// Review intervals of the two-tier policy.
const (
	ShortInterval  = time.Minute
	MediumInterval = 10 * time.Minute
	LongInterval   = 24 * time.Hour
)

// NextInterval returns how long to wait before showing a card again, given
// its state before the answer (nil when it has no history) and the answer.
func NextInterval(prev *ReviewState, correct bool) time.Duration {
	if !prev.Attempted() {
		if correct {
			return MediumInterval
		}
		return ShortInterval
	}
	switch {
	case *prev.LastResult && correct:
		return LongInterval
	case *prev.LastResult && !correct:
		return MediumInterval
	case correct:
		return LongInterval
	default:
		return ShortInterval
	}
}

// NewOutcome builds the outcome of answering a card at now.
// Timestamps are truncated to the one-second resolution of the log format.
func NewOutcome(cardID string, prev *ReviewState, correct bool, now time.Time) ReviewOutcome {
	now = now.Truncate(time.Second)
	return ReviewOutcome{
		CardID:       cardID,
		Correct:      correct,
		NextReviewAt: now.Add(NextInterval(prev, correct)),
		RecordedAt:   now,
	}
}
