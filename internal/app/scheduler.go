package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// Slot is a daily fire time in UTC.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// at places the slot on the given date.
func (s Slot) at(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
}

// ParseSlots parses "HH:MM" specs, dropping unparseable entries with a
// logged warning. When nothing survives it falls back to the fixed
// default so scheduling stays deterministic.
func ParseSlots(specs []string) []Slot {
	out := make([]Slot, 0, len(specs))
	for _, spec := range specs {
		slot, err := parseSlot(spec)
		if err != nil {
			log.Printf("scheduler: dropping invalid time %q: %v", spec, err)
			continue
		}
		out = append(out, slot)
	}
	if len(out) == 0 {
		out = []Slot{{Hour: 20, Minute: 0}}
	}
	return out
}

func parseSlot(spec string) (Slot, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) != 2 {
		return Slot{}, errors.New("expected HH:MM")
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Slot{}, fmt.Errorf("bad hour %q", parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Slot{}, fmt.Errorf("bad minute %q", parts[1])
	}
	return Slot{Hour: hour, Minute: minute}, nil
}

// RoundStarter is the slice of RoundService the scheduler needs.
type RoundStarter interface {
	StartRound(ctx context.Context, channelID string) (*Round, error)
}

// SchedulerConfig carries the timing policy.
type SchedulerConfig struct {
	Channels  []string
	Slots     []Slot
	AlertLead time.Duration
	Tolerance time.Duration
	Interval  time.Duration
	Clock     Clock
}

// Scheduler fires pre-round alerts and starts rounds at the configured
// times of day, exactly once per slot per day, tolerating tick drift
// within the symmetric tolerance window.
type Scheduler struct {
	starter   RoundStarter
	publisher Publisher
	cfg       SchedulerConfig

	mu      sync.Mutex
	day     string
	fired   map[string]struct{}
	alerted map[string]struct{}
}

// NewScheduler builds a scheduler. Zero config values get defaults
// matching the engine's documented policy.
func NewScheduler(starter RoundStarter, publisher Publisher, cfg SchedulerConfig) *Scheduler {
	if len(cfg.Slots) == 0 {
		cfg.Slots = ParseSlots(nil)
	}
	if cfg.AlertLead <= 0 {
		cfg.AlertLead = 10 * time.Minute
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 2 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	return &Scheduler{
		starter:   starter,
		publisher: publisher,
		cfg:       cfg,
		fired:     make(map[string]struct{}),
		alerted:   make(map[string]struct{}),
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.cfg.Clock.Now())
		}
	}
}

// Tick evaluates one scheduler pass at the given instant. Exported so
// tests can drive the schedule deterministically.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.UTC()
	s.rollDay(now)

	for _, slot := range s.cfg.Slots {
		target := slot.at(now)

		if lead := target.Sub(now); lead > 0 && lead <= s.cfg.AlertLead {
			s.alert(ctx, slot, lead)
		}

		drift := now.Sub(target)
		if drift < 0 {
			drift = -drift
		}
		if drift <= s.cfg.Tolerance {
			s.fire(ctx, slot)
		}
	}
}

// rollDay resets the fired and alerted sets when the observed date
// changes.
func (s *Scheduler) rollDay(now time.Time) {
	day := now.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day != day {
		s.day = day
		s.fired = make(map[string]struct{})
		s.alerted = make(map[string]struct{})
	}
}

// alert publishes the pre-round notice once per slot, channel, and
// day. Alerts are best-effort: a failed publish is retried on the next
// tick inside the lead window.
func (s *Scheduler) alert(ctx context.Context, slot Slot, lead time.Duration) {
	for _, channelID := range s.cfg.Channels {
		key := slot.String() + "|" + channelID
		s.mu.Lock()
		_, done := s.alerted[key]
		s.mu.Unlock()
		if done {
			continue
		}

		minutes := int(lead.Round(time.Minute) / time.Minute)
		text := fmt.Sprintf("Quiz starts at %s UTC, about %d minute(s) to go!", slot, minutes)
		if _, err := s.publisher.Publish(ctx, channelID, domain.Message{Kind: domain.MessageAlert, Text: text}); err != nil {
			log.Printf("scheduler: alert for %s on %s failed: %v", slot, channelID, err)
			continue
		}

		s.mu.Lock()
		s.alerted[key] = struct{}{}
		s.mu.Unlock()
	}
}

// fire starts the round for every configured channel. The slot is
// marked fired before StartRound so continued ticks inside the
// tolerance window can never start a second round.
func (s *Scheduler) fire(ctx context.Context, slot Slot) {
	for _, channelID := range s.cfg.Channels {
		key := slot.String() + "|" + channelID
		s.mu.Lock()
		if _, done := s.fired[key]; done {
			s.mu.Unlock()
			continue
		}
		s.fired[key] = struct{}{}
		s.mu.Unlock()

		if _, err := s.starter.StartRound(ctx, channelID); err != nil {
			if errors.Is(err, domain.ErrAlreadyActive) {
				log.Printf("scheduler: slot %s on %s skipped, round already running", slot, channelID)
				continue
			}
			log.Printf("scheduler: slot %s on %s failed to start round: %v", slot, channelID, err)
		}
	}
}
