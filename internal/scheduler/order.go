// Package scheduler decides which card of a deck to show next.
//
// Cards are ranked into four buckets and shown lowest bucket first:
//
//	0  never attempted
//	1  due (NextReviewAt <= now)
//	2  not due, but the last answer was wrong
//	3  everything else
//
// Within buckets 1-3 cards are ordered by NextReviewAt; bucket 0 keeps the
// manifest order.
package scheduler

import (
	"sort"
	"time"

	"kioku/internal/kioku"
)

// Bucket is the rank class of a card.
type Bucket int

const (
	BucketNew Bucket = iota
	BucketDue
	BucketMissed
	BucketLater
)

// Classify returns the bucket of a card with state st (nil when the card
// has no history).
func Classify(st *kioku.ReviewState, now time.Time) Bucket {
	switch {
	case !st.Attempted():
		return BucketNew
	case !st.NextReviewAt.After(now):
		return BucketDue
	case !*st.LastResult:
		return BucketMissed
	default:
		return BucketLater
	}
}

// Urgent reports whether b is surfaced by mid-session reprioritization.
func (b Bucket) Urgent() bool {
	return b != BucketLater
}

func stateOf(states map[string]kioku.ReviewState, id string) *kioku.ReviewState {
	if st, ok := states[id]; ok {
		return &st
	}
	return nil
}

// Order returns cards in presentation order. The sort is stable, so ties
// keep the order of cards.
func Order(cards []string, states map[string]kioku.ReviewState, now time.Time) []string {
	type ranked struct {
		id     string
		bucket Bucket
		next   time.Time
	}

	rs := make([]ranked, len(cards))
	for i, id := range cards {
		st := stateOf(states, id)
		r := ranked{id: id, bucket: Classify(st, now)}
		if st != nil {
			r.next = st.NextReviewAt
		}
		rs[i] = r
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].bucket != rs[j].bucket {
			return rs[i].bucket < rs[j].bucket
		}
		if rs[i].bucket == BucketNew {
			return false
		}
		return rs[i].next.Before(rs[j].next)
	})

	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.id
	}
	return out
}

// Due returns, in presentation order, the cards whose NextReviewAt is not
// after now. Cards without history have no review time and are excluded.
func Due(cards []string, states map[string]kioku.ReviewState, now time.Time) []string {
	var due []string
	for _, id := range cards {
		st := stateOf(states, id)
		if st.Attempted() && !st.NextReviewAt.After(now) {
			due = append(due, id)
		}
	}
	return Order(due, states, now)
}
