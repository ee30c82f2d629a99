package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// BankLoader fetches the question bank from a backing store (JSON
// file, document DB, etc).
type BankLoader interface {
	LoadBank(ctx context.Context) ([]domain.Question, error)
}

// QuestionRepository caches the bank with TTL to avoid repeated loads
// and tracks the used-id set in memory.
type QuestionRepository struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	bank      []domain.Question
	expiresAt time.Time
	used      map[int]struct{}
}

func NewQuestionRepository(loader BankLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		used:   make(map[int]struct{}),
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

func (r *QuestionRepository) UsedIDs(_ context.Context) (map[int]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]struct{}, len(r.used))
	for id := range r.used {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *QuestionRepository) MarkUsed(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used[id] = struct{}{}
	return nil
}

func (r *QuestionRepository) ClearUsed(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used = make(map[int]struct{})
	return nil
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticBankLoader serves a fixed bank (useful for tests/demos).
type StaticBankLoader struct {
	questions []domain.Question
}

func NewStaticBankLoader(questions []domain.Question) *StaticBankLoader {
	return &StaticBankLoader{questions: questions}
}

func (l *StaticBankLoader) LoadBank(_ context.Context) ([]domain.Question, error) {
	if len(l.questions) == 0 {
		return nil, domain.ErrEmptyBank
	}
	return l.questions, nil
}
