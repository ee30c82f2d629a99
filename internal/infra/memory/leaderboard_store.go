package memory

import (
	"context"
	"sync"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// LeaderboardStore is an in-memory implementation of
// app.LeaderboardStore, used standalone and as the test double.
type LeaderboardStore struct {
	mu      sync.RWMutex
	entries map[string]domain.LeaderboardEntry
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{entries: make(map[string]domain.LeaderboardEntry)}
}

func (s *LeaderboardStore) Load(_ context.Context) (map[string]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.LeaderboardEntry, len(s.entries))
	for id, entry := range s.entries {
		out[id] = copyEntry(entry)
	}
	return out, nil
}

func (s *LeaderboardStore) Upsert(_ context.Context, entries []domain.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		s.entries[entry.ParticipantID] = copyEntry(entry)
	}
	return nil
}

// copyEntry detaches the daily map so callers cannot mutate stored state.
func copyEntry(entry domain.LeaderboardEntry) domain.LeaderboardEntry {
	daily := make(map[string]int, len(entry.DailyCounts))
	for day, count := range entry.DailyCounts {
		daily[day] = count
	}
	entry.DailyCounts = daily
	return entry
}
