package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// CooldownStore keeps the most recent lifeline use per participant and
// kind in Redis: SET cooldown:{participantID}:{kind} {RFC3339 nano}.
// Later uses simply overwrite the key, which is all the "most recent
// record" contract needs.
type CooldownStore struct {
	client *goredis.Client
}

func NewCooldownStore(client *goredis.Client) *CooldownStore {
	return &CooldownStore{client: client}
}

func (s *CooldownStore) LastUsed(ctx context.Context, participantID string, kind domain.LifelineKind) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(participantID, kind)).Result()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown get: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown parse %q: %w", raw, err)
	}
	return t, true, nil
}

func (s *CooldownStore) MarkUsed(ctx context.Context, participantID string, kind domain.LifelineKind, at time.Time) error {
	if err := s.client.Set(ctx, s.key(participantID, kind), at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("cooldown set: %w", err)
	}
	return nil
}

func (s *CooldownStore) key(participantID string, kind domain.LifelineKind) string {
	return "cooldown:" + participantID + ":" + string(kind)
}
