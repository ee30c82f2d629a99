package app

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

type recordedAnswer struct {
	label       domain.Label
	displayName string
}

// Round is one live question instance on a channel, from publish to
// close. All mutable state is guarded by mu; the service holds no
// round lock while calling into stores, so every check here is
// re-validated on entry rather than assumed stable across calls.
type Round struct {
	id        string
	channelID string
	question  domain.Question
	openedAt  time.Time
	closesAt  time.Time

	mu           sync.Mutex
	answers      map[string]recordedAnswer
	lifelineUses map[string]struct{}
	closed       bool
	closeTimer   Timer
}

func newRound(id, channelID string, q domain.Question, openedAt, closesAt time.Time) *Round {
	return &Round{
		id:           id,
		channelID:    channelID,
		question:     q,
		openedAt:     openedAt,
		closesAt:     closesAt,
		answers:      make(map[string]recordedAnswer),
		lifelineUses: make(map[string]struct{}),
	}
}

// ID is the identity of the published question message.
func (r *Round) ID() string { return r.id }

// ChannelID is the channel the round runs on.
func (r *Round) ChannelID() string { return r.channelID }

// ClosesAt is the answer deadline.
func (r *Round) ClosesAt() time.Time { return r.closesAt }

// Question returns the question being asked.
func (r *Round) Question() domain.Question { return r.question }

func (r *Round) expired(now time.Time) bool {
	return !now.Before(r.closesAt)
}

// Expired reports whether the deadline has passed at now.
func (r *Round) Expired(now time.Time) bool {
	return r.expired(now)
}

// recordAnswer inserts the participant's first answer. Later answers
// never overwrite it.
func (r *Round) recordAnswer(now time.Time, p domain.Participant, label domain.Label) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ErrRoundNotFound
	}
	if r.expired(now) {
		return domain.ErrRoundExpired
	}
	if _, ok := r.answers[p.ID]; ok {
		return domain.ErrAlreadyAnswered
	}
	r.answers[p.ID] = recordedAnswer{label: label, displayName: p.DisplayName}
	return nil
}

// answerOf returns the label a participant has recorded, if any.
func (r *Round) answerOf(participantID string) (domain.Label, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.answers[participantID]
	return a.label, ok
}

// markLifelineUse flags a one-per-round lifeline consumption; false
// means the participant had already used one this round.
func (r *Round) markLifelineUse(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lifelineUses[participantID]; ok {
		return false
	}
	r.lifelineUses[participantID] = struct{}{}
	return true
}

func (r *Round) hasLifelineUse(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lifelineUses[participantID]
	return ok
}

func (r *Round) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// beginClose flips the closed flag exactly once. A false return means
// another closer already won; tally must not run again.
func (r *Round) beginClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

// tally snapshots winners and per-label counts. Winners are sorted by
// participant id so outcome publishing is deterministic.
func (r *Round) tally() (winners []domain.Participant, tallies map[domain.Label]int, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tallies = make(map[domain.Label]int, len(domain.Labels))
	for _, l := range domain.Labels {
		tallies[l] = 0
	}
	for participantID, a := range r.answers {
		tallies[a.label]++
		if a.label == r.question.Correct {
			winners = append(winners, domain.Participant{ID: participantID, DisplayName: a.displayName})
		}
	}
	sort.Slice(winners, func(i, j int) bool { return winners[i].ID < winners[j].ID })
	return winners, tallies, len(r.answers)
}

// percentages computes the audience distribution at this moment. The
// denominator is clamped to 1 so zero answers yield all-zero rows.
func (r *Round) percentages() domain.AudienceResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.Label]int, len(domain.Labels))
	for _, a := range r.answers {
		counts[a.label]++
	}
	total := len(r.answers)
	denom := total
	if denom == 0 {
		denom = 1
	}
	percentages := make(map[domain.Label]int, len(domain.Labels))
	for _, l := range domain.Labels {
		percentages[l] = int(math.Round(100 * float64(counts[l]) / float64(denom)))
	}
	return domain.AudienceResult{Percentages: percentages, Answers: total}
}
