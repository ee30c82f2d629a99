package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// defaultStoreTimeout bounds every store call so a slow backend can
// never wedge round processing.
const defaultStoreTimeout = 10 * time.Second

// RoundService owns the active-rounds table and the full round
// lifecycle: question selection, publishing, answer collection, and
// deadline-triggered close-processing.
type RoundService struct {
	publisher   Publisher
	leaderboard LeaderboardStore
	questions   QuestionRepository
	clock       Clock
	duration    time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu        sync.Mutex
	rounds    map[string]*Round
	byChannel map[string]string // channel id -> round id; "" while a start is in flight
}

// NewRoundService wires a service against real time and a seeded
// random source.
func NewRoundService(publisher Publisher, leaderboard LeaderboardStore, questions QuestionRepository, duration time.Duration) *RoundService {
	return NewRoundServiceWithClock(publisher, leaderboard, questions, duration,
		NewClock(), rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewRoundServiceWithClock is test-only for deterministic deadlines
// and question picks.
func NewRoundServiceWithClock(publisher Publisher, leaderboard LeaderboardStore, questions QuestionRepository, duration time.Duration, clock Clock, rnd *rand.Rand) *RoundService {
	return &RoundService{
		publisher:   publisher,
		leaderboard: leaderboard,
		questions:   questions,
		clock:       clock,
		duration:    duration,
		rnd:         rnd,
		rounds:      make(map[string]*Round),
		byChannel:   make(map[string]string),
	}
}

// StartRound opens a round on the channel: picks an unused question,
// publishes it, registers the round, and arms the deadline timer.
// Returns domain.ErrAlreadyActive when a round is already open (or
// being opened) on the channel.
func (s *RoundService) StartRound(ctx context.Context, channelID string) (*Round, error) {
	// Reserve the channel before any store call so two near-simultaneous
	// triggers cannot both pass the "no round open" check.
	s.mu.Lock()
	if _, ok := s.byChannel[channelID]; ok {
		s.mu.Unlock()
		return nil, domain.ErrAlreadyActive
	}
	s.byChannel[channelID] = ""
	s.mu.Unlock()

	round, err := s.openRound(ctx, channelID)
	if err != nil {
		s.mu.Lock()
		if s.byChannel[channelID] == "" {
			delete(s.byChannel, channelID)
		}
		s.mu.Unlock()
		return nil, err
	}
	return round, nil
}

func (s *RoundService) openRound(ctx context.Context, channelID string) (*Round, error) {
	question, err := s.pickQuestion(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	closesAt := now.Add(s.duration)
	msgID, err := s.publisher.Publish(ctx, channelID, domain.Message{
		Kind:     domain.MessageQuestion,
		Prompt:   question.Prompt,
		Options:  question.Options,
		ClosesAt: closesAt,
	})
	if err != nil {
		return nil, fmt.Errorf("publish question: %w", err)
	}

	round := newRound(msgID, channelID, question, now, closesAt)

	s.mu.Lock()
	s.rounds[msgID] = round
	s.byChannel[channelID] = msgID
	s.mu.Unlock()

	round.closeTimer = s.clock.AfterFunc(s.duration, func() {
		if err := s.Close(context.Background(), msgID); err != nil {
			log.Printf("round %s: deadline close failed: %v", msgID, err)
		}
	})

	log.Printf("round %s: opened on channel %s with question %d, closes at %s",
		msgID, channelID, question.ID, closesAt.UTC().Format(time.RFC3339))
	return round, nil
}

// pickQuestion selects uniformly from the bank minus the used set,
// clearing the used set first when the pool is exhausted.
func (s *RoundService) pickQuestion(ctx context.Context) (domain.Question, error) {
	bank, err := s.loadBank(ctx)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load bank: %w", err)
	}
	if len(bank) == 0 {
		return domain.Question{}, domain.ErrEmptyBank
	}

	used, err := s.loadUsedIDs(ctx)
	if err != nil {
		// A broken used-set should not stop the quiz; fall back to the full bank.
		log.Printf("load used ids failed, selecting from full bank: %v", err)
		used = nil
	}

	pool := bank[:0:0]
	for _, q := range bank {
		if _, ok := used[q.ID]; !ok {
			pool = append(pool, q)
		}
	}
	if len(pool) == 0 {
		storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
		err := s.questions.ClearUsed(storeCtx)
		cancel()
		if err != nil {
			log.Printf("clear used ids failed: %v", err)
		}
		pool = bank
	}

	s.rndMu.Lock()
	question := pool[s.rnd.Intn(len(pool))]
	s.rndMu.Unlock()
	return question, nil
}

func (s *RoundService) loadBank(ctx context.Context) ([]domain.Question, error) {
	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	return s.questions.LoadBank(storeCtx)
}

func (s *RoundService) loadUsedIDs(ctx context.Context) (map[int]struct{}, error) {
	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	return s.questions.UsedIDs(storeCtx)
}

// RecordAnswer stores the participant's first answer for the round.
// Outcomes are informational: ErrRoundNotFound, ErrRoundExpired, and
// ErrAlreadyAnswered are reported to the actor, not logged as errors.
func (s *RoundService) RecordAnswer(_ context.Context, roundID string, p domain.Participant, label domain.Label) error {
	if !label.Valid() {
		return domain.ErrInvalidLabel
	}

	s.mu.Lock()
	round, ok := s.rounds[roundID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrRoundNotFound
	}
	return round.recordAnswer(s.clock.Now(), p, label)
}

// ActiveRound returns the open round on the channel, if any. A round
// past its deadline but not yet tallied is still returned; callers
// enforce liveness with Round.Expired.
func (s *RoundService) ActiveRound(channelID string) (*Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChannel[channelID]
	if !ok || id == "" {
		return nil, false
	}
	round, ok := s.rounds[id]
	return round, ok
}

// Close runs close-processing exactly once for the round: tally,
// leaderboard awards, used-question marking, and outcome publishing.
// Store failures are logged and never re-open the round or keep it in
// the active set; repeat invocations are no-ops.
func (s *RoundService) Close(ctx context.Context, roundID string) error {
	s.mu.Lock()
	round, ok := s.rounds[roundID]
	s.mu.Unlock()
	if !ok {
		// Already closed and evicted, or never existed.
		return nil
	}
	if !round.beginClose() {
		return nil
	}
	if round.closeTimer != nil {
		round.closeTimer.Stop()
	}

	// Eviction must happen regardless of how the tally goes.
	defer func() {
		s.mu.Lock()
		delete(s.rounds, roundID)
		if s.byChannel[round.channelID] == roundID {
			delete(s.byChannel, round.channelID)
		}
		s.mu.Unlock()
	}()

	winners, tallies, total := round.tally()
	s.award(ctx, winners)

	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	if err := s.questions.MarkUsed(storeCtx, round.question.ID); err != nil {
		log.Printf("round %s: mark question %d used failed: %v", roundID, round.question.ID, err)
	}
	cancel()

	outcome := &domain.RoundOutcome{
		RoundID:      roundID,
		ChannelID:    round.channelID,
		QuestionID:   round.question.ID,
		Correct:      round.question.Correct,
		CorrectText:  round.question.Options[round.question.Correct],
		Winners:      winners,
		Tallies:      tallies,
		TotalAnswers: total,
	}

	if err := s.publisher.EditMessage(ctx, round.channelID, roundID, domain.Message{
		Kind:     domain.MessageQuestion,
		Prompt:   round.question.Prompt,
		Options:  round.question.Options,
		ClosesAt: round.closesAt,
		Text:     "closed",
	}); err != nil {
		log.Printf("round %s: edit question message failed: %v", roundID, err)
	}
	if _, err := s.publisher.Publish(ctx, round.channelID, domain.Message{
		Kind:    domain.MessageOutcome,
		Outcome: outcome,
	}); err != nil {
		log.Printf("round %s: publish outcome failed: %v", roundID, err)
	}

	log.Printf("round %s: closed, %d answers, %d winner(s)", roundID, total, len(winners))
	return nil
}

// award gives every winner one point: total and today's daily count,
// with the display name refreshed. Best-effort: a failed persistence
// write is logged, not retried inline.
func (s *RoundService) award(ctx context.Context, winners []domain.Participant) {
	if len(winners) == 0 {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	entries, err := s.leaderboard.Load(storeCtx)
	cancel()
	if err != nil {
		log.Printf("leaderboard load failed, skipping awards: %v", err)
		return
	}

	day := s.clock.Now().UTC().Format("2006-01-02")
	updated := make([]domain.LeaderboardEntry, 0, len(winners))
	for _, w := range winners {
		entry, ok := entries[w.ID]
		if !ok {
			entry = domain.LeaderboardEntry{ParticipantID: w.ID}
		}
		if entry.DailyCounts == nil {
			entry.DailyCounts = make(map[string]int)
		}
		entry.DisplayName = w.DisplayName
		entry.TotalPoints++
		entry.DailyCounts[day]++
		updated = append(updated, entry)
	}

	storeCtx, cancel = context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	if err := s.leaderboard.Upsert(storeCtx, updated); err != nil {
		log.Printf("leaderboard upsert failed for %d winner(s): %v", len(updated), err)
	}
}

// Standings aggregates the leaderboard over the requested window.
// Weekly and monthly totals are derived from per-day award counts:
// the current ISO week (Monday-based) and the current calendar month.
func (s *RoundService) Standings(ctx context.Context, window domain.StandingsWindow) ([]domain.Standing, error) {
	storeCtx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()
	entries, err := s.leaderboard.Load(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("leaderboard load: %w", err)
	}

	now := s.clock.Now().UTC()
	standings := make([]domain.Standing, 0, len(entries))
	for _, entry := range entries {
		points := windowPoints(entry, window, now)
		if points == 0 && window != domain.WindowAllTime {
			continue
		}
		standings = append(standings, domain.Standing{
			ParticipantID: entry.ParticipantID,
			DisplayName:   entry.DisplayName,
			Points:        points,
		})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Points != standings[j].Points {
			return standings[i].Points > standings[j].Points
		}
		return standings[i].DisplayName < standings[j].DisplayName
	})
	return standings, nil
}

func windowPoints(entry domain.LeaderboardEntry, window domain.StandingsWindow, now time.Time) int {
	switch window {
	case domain.WindowWeekly:
		year, week := now.ISOWeek()
		return sumDays(entry.DailyCounts, func(day time.Time) bool {
			y, w := day.ISOWeek()
			return y == year && w == week
		})
	case domain.WindowMonthly:
		return sumDays(entry.DailyCounts, func(day time.Time) bool {
			return day.Year() == now.Year() && day.Month() == now.Month()
		})
	default:
		return entry.TotalPoints
	}
}

func sumDays(daily map[string]int, include func(time.Time) bool) int {
	total := 0
	for dayStr, count := range daily {
		day, err := time.Parse("2006-01-02", dayStr)
		if err != nil {
			continue
		}
		if include(day) {
			total += count
		}
	}
	return total
}
