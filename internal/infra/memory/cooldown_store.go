package memory

import (
	"context"
	"sync"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// CooldownStore keeps lifeline usage as an append-only in-memory log,
// mirroring the persistent store's contract: LastUsed reports the most
// recent record per participant and kind.
type CooldownStore struct {
	mu      sync.RWMutex
	records []domain.CooldownRecord
}

func NewCooldownStore() *CooldownStore {
	return &CooldownStore{}
}

func (s *CooldownStore) LastUsed(_ context.Context, participantID string, kind domain.LifelineKind) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, rec := range s.records {
		if rec.ParticipantID == participantID && rec.Kind == kind && rec.UsedAt.After(latest) {
			latest = rec.UsedAt
			found = true
		}
	}
	return latest, found, nil
}

func (s *CooldownStore) MarkUsed(_ context.Context, participantID string, kind domain.LifelineKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, domain.CooldownRecord{
		ParticipantID: participantID,
		Kind:          kind,
		UsedAt:        at,
	})
	return nil
}

// Writes reports how many records have been appended. Test hook for
// verifying that free lifeline outcomes never consume the cooldown.
func (s *CooldownStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
