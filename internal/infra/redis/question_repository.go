package redis

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

const usedSetKey = "quiz:used_questions"

// BankLoader fetches the question bank from a backing store (JSON
// file, document DB, etc).
type BankLoader interface {
	LoadBank(ctx context.Context) ([]domain.Question, error)
}

// QuestionRepository keeps the used-id set in a Redis set so it
// survives restarts, while the bank itself is cached locally with TTL
// and refilled through the loader.
type QuestionRepository struct {
	client *goredis.Client
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	bank      []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(client *goredis.Client, loader BankLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) LoadBank(ctx context.Context) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if r.bank != nil && r.expiresAt.After(now) {
		bank := r.bank
		r.mu.RUnlock()
		return bank, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("bank", func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if r.bank != nil && r.expiresAt.After(now) {
			bank := r.bank
			r.mu.RUnlock()
			return bank, nil
		}
		r.mu.RUnlock()

		bank, err := r.loader.LoadBank(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.bank = bank
		r.expiresAt = now.Add(r.ttlWithJitter())
		r.mu.Unlock()
		return bank, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) UsedIDs(ctx context.Context) (map[int]struct{}, error) {
	members, err := r.client.SMembers(ctx, usedSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("used set members: %w", err)
	}
	out := make(map[int]struct{}, len(members))
	for _, member := range members {
		id, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *QuestionRepository) MarkUsed(ctx context.Context, id int) error {
	if err := r.client.SAdd(ctx, usedSetKey, strconv.Itoa(id)).Err(); err != nil {
		return fmt.Errorf("used set add: %w", err)
	}
	return nil
}

func (r *QuestionRepository) ClearUsed(ctx context.Context) error {
	if err := r.client.Del(ctx, usedSetKey).Err(); err != nil {
		return fmt.Errorf("used set clear: %w", err)
	}
	return nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
