package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// LeaderboardStore persists score records in the ranking table, with
// per-day award counts as JSONB.
type LeaderboardStore struct {
	pool *pgxpool.Pool
}

func NewLeaderboardStore(pool *pgxpool.Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

func (s *LeaderboardStore) Load(ctx context.Context) (map[string]domain.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, name, points, daily FROM ranking`)
	if err != nil {
		return nil, fmt.Errorf("load ranking: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]domain.LeaderboardEntry)
	for rows.Next() {
		var (
			entry domain.LeaderboardEntry
			daily []byte
		)
		if err := rows.Scan(&entry.ParticipantID, &entry.DisplayName, &entry.TotalPoints, &daily); err != nil {
			return nil, fmt.Errorf("scan ranking row: %w", err)
		}
		entry.DailyCounts = make(map[string]int)
		if len(daily) > 0 {
			if err := json.Unmarshal(daily, &entry.DailyCounts); err != nil {
				return nil, fmt.Errorf("unmarshal daily counts for %s: %w", entry.ParticipantID, err)
			}
		}
		entries[entry.ParticipantID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranking: %w", err)
	}
	return entries, nil
}

func (s *LeaderboardStore) Upsert(ctx context.Context, entries []domain.LeaderboardEntry) error {
	for _, entry := range entries {
		daily, err := json.Marshal(entry.DailyCounts)
		if err != nil {
			return fmt.Errorf("marshal daily counts for %s: %w", entry.ParticipantID, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO ranking (user_id, name, points, daily)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (user_id) DO UPDATE
			SET name = EXCLUDED.name, points = EXCLUDED.points, daily = EXCLUDED.daily`,
			entry.ParticipantID, entry.DisplayName, entry.TotalPoints, string(daily))
		if err != nil {
			return fmt.Errorf("upsert ranking %s: %w", entry.ParticipantID, err)
		}
	}
	return nil
}
