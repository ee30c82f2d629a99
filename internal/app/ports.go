package app

import (
	"context"
	"time"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// Publisher delivers messages to a channel on the chat gateway and
// returns the identity of the published message. Round ids are the
// message ids of their question posts.
type Publisher interface {
	Publish(ctx context.Context, channelID string, msg domain.Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg domain.Message) error
}

// LeaderboardStore persists score records. Round close-processing is
// the sole writer.
type LeaderboardStore interface {
	Load(ctx context.Context) (map[string]domain.LeaderboardEntry, error)
	Upsert(ctx context.Context, entries []domain.LeaderboardEntry) error
}

// CooldownStore records lifeline consumption per participant and kind.
// LastUsed reports the most recent consumption; ok is false when the
// participant has never used that kind.
type CooldownStore interface {
	LastUsed(ctx context.Context, participantID string, kind domain.LifelineKind) (t time.Time, ok bool, err error)
	MarkUsed(ctx context.Context, participantID string, kind domain.LifelineKind, at time.Time) error
}

// QuestionRepository exposes the static bank plus the persistent
// used-id set that keeps questions from repeating until exhaustion.
type QuestionRepository interface {
	LoadBank(ctx context.Context) ([]domain.Question, error)
	UsedIDs(ctx context.Context) (map[int]struct{}, error)
	MarkUsed(ctx context.Context, id int) error
	ClearUsed(ctx context.Context) error
}
