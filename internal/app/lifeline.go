package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// LifelineService computes the three assist actions against the live
// round on a channel. Every kind is gated by the per-participant
// cooldown window; fifty-fifty can additionally be limited to one use
// per participant per round.
type LifelineService struct {
	rounds       *RoundService
	cooldowns    CooldownStore
	clock        Clock
	window       time.Duration
	oncePerRound bool

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewLifelineService wires the engine against real time.
func NewLifelineService(rounds *RoundService, cooldowns CooldownStore, window time.Duration, oncePerRound bool) *LifelineService {
	return NewLifelineServiceWithClock(rounds, cooldowns, window, oncePerRound,
		NewClock(), rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewLifelineServiceWithClock is test-only for deterministic cooldown
// arithmetic and eliminations.
func NewLifelineServiceWithClock(rounds *RoundService, cooldowns CooldownStore, window time.Duration, oncePerRound bool, clock Clock, rnd *rand.Rand) *LifelineService {
	return &LifelineService{
		rounds:       rounds,
		cooldowns:    cooldowns,
		clock:        clock,
		window:       window,
		oncePerRound: oncePerRound,
		rnd:          rnd,
	}
}

// FiftyFifty eliminates two of the three wrong labels uniformly at
// random and returns the surviving pair in randomized order. The
// correct label always survives. Round answers are untouched.
func (s *LifelineService) FiftyFifty(ctx context.Context, channelID, participantID string) (domain.FiftyFiftyResult, error) {
	round, err := s.liveRound(channelID)
	if err != nil {
		return domain.FiftyFiftyResult{}, err
	}
	if s.oncePerRound && round.hasLifelineUse(participantID) {
		return domain.FiftyFiftyResult{}, domain.ErrLifelineUsed
	}
	if err := s.checkCooldown(ctx, participantID, domain.LifelineFiftyFifty); err != nil {
		return domain.FiftyFiftyResult{}, err
	}
	// The cooldown lookup can take long enough for the round to end;
	// nothing may be consumed against a round that is no longer live.
	if round.isClosed() || round.Expired(s.clock.Now()) {
		return domain.FiftyFiftyResult{}, domain.ErrRoundExpired
	}

	correct := round.Question().Correct
	wrong := make([]domain.Label, 0, 3)
	for _, l := range domain.Labels {
		if l != correct {
			wrong = append(wrong, l)
		}
	}

	s.rndMu.Lock()
	survivor := wrong[s.rnd.Intn(len(wrong))]
	remaining := []domain.Label{correct, survivor}
	if s.rnd.Intn(2) == 1 {
		remaining[0], remaining[1] = remaining[1], remaining[0]
	}
	s.rndMu.Unlock()

	if s.oncePerRound && !round.markLifelineUse(participantID) {
		return domain.FiftyFiftyResult{}, domain.ErrLifelineUsed
	}
	s.consume(ctx, participantID, domain.LifelineFiftyFifty)
	return domain.FiftyFiftyResult{Remaining: remaining}, nil
}

// Audience tallies the current answer distribution as rounded
// percentages. Read-only over the round's answers.
func (s *LifelineService) Audience(ctx context.Context, channelID, participantID string) (domain.AudienceResult, error) {
	round, err := s.liveRound(channelID)
	if err != nil {
		return domain.AudienceResult{}, err
	}
	if err := s.checkCooldown(ctx, participantID, domain.LifelineAudience); err != nil {
		return domain.AudienceResult{}, err
	}

	result := round.percentages()
	s.consume(ctx, participantID, domain.LifelineAudience)
	return result, nil
}

// PhoneFriend reveals the target participant's recorded answer. A
// target who has not answered yields an unavailable result and does
// not consume the cooldown: failed lookups are free.
func (s *LifelineService) PhoneFriend(ctx context.Context, channelID, participantID, targetID string) (domain.PhoneFriendResult, error) {
	round, err := s.liveRound(channelID)
	if err != nil {
		return domain.PhoneFriendResult{}, err
	}
	if err := s.checkCooldown(ctx, participantID, domain.LifelinePhoneFriend); err != nil {
		return domain.PhoneFriendResult{}, err
	}

	label, ok := round.answerOf(targetID)
	if !ok {
		return domain.PhoneFriendResult{TargetID: targetID, Available: false}, nil
	}
	s.consume(ctx, participantID, domain.LifelinePhoneFriend)
	return domain.PhoneFriendResult{TargetID: targetID, Available: true, Label: label}, nil
}

// CooldownStatus reports remaining cooldown per lifeline kind for the
// participant.
func (s *LifelineService) CooldownStatus(ctx context.Context, participantID string) ([]domain.LifelineStatus, error) {
	now := s.clock.Now()
	statuses := make([]domain.LifelineStatus, 0, len(domain.LifelineKinds))
	for _, kind := range domain.LifelineKinds {
		last, ok, err := s.lastUsed(ctx, participantID, kind)
		if err != nil {
			return nil, fmt.Errorf("cooldown lookup for %s: %w", kind, err)
		}
		status := domain.LifelineStatus{Kind: kind, Available: true}
		if ok {
			if remaining := last.Add(s.window).Sub(now); remaining > 0 {
				status.Available = false
				status.Remaining = remaining
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *LifelineService) liveRound(channelID string) (*Round, error) {
	round, ok := s.rounds.ActiveRound(channelID)
	if !ok {
		return nil, domain.ErrNoActiveRound
	}
	if round.Expired(s.clock.Now()) {
		return nil, domain.ErrRoundExpired
	}
	return round, nil
}

func (s *LifelineService) checkCooldown(ctx context.Context, participantID string, kind domain.LifelineKind) error {
	last, ok, err := s.lastUsed(ctx, participantID, kind)
	if err != nil {
		return fmt.Errorf("cooldown lookup for %s: %w", kind, err)
	}
	if !ok {
		return nil
	}
	if remaining := last.Add(s.window).Sub(s.clock.Now()); remaining > 0 {
		return &domain.CooldownError{Kind: kind, Remaining: remaining}
	}
	return nil
}

func (s *LifelineService) lastUsed(ctx context.Context, participantID string, kind domain.LifelineKind) (time.Time, bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	return s.cooldowns.LastUsed(storeCtx, participantID, kind)
}

// consume records the cooldown start. A failed write is logged and
// the lifeline result still returned; the participant keeps the
// benefit of the doubt.
func (s *LifelineService) consume(ctx context.Context, participantID string, kind domain.LifelineKind) {
	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	if err := s.cooldowns.MarkUsed(storeCtx, participantID, kind, s.clock.Now()); err != nil {
		log.Printf("cooldown mark %s/%s failed: %v", participantID, kind, err)
	}
}
