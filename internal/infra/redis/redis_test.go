package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCooldownStoreRoundtrip(t *testing.T) {
	store := NewCooldownStore(testClient(t))
	ctx := context.Background()

	if _, ok, err := store.LastUsed(ctx, "u1", domain.LifelineFiftyFifty); err != nil || ok {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}

	used := time.Date(2026, 3, 18, 10, 30, 0, 123456789, time.UTC)
	if err := store.MarkUsed(ctx, "u1", domain.LifelineFiftyFifty, used); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, ok, err := store.LastUsed(ctx, "u1", domain.LifelineFiftyFifty)
	if err != nil || !ok {
		t.Fatalf("last used: ok=%v err=%v", ok, err)
	}
	if !got.Equal(used) {
		t.Fatalf("expected %s, got %s", used, got)
	}

	// Kinds are keyed independently.
	if _, ok, _ := store.LastUsed(ctx, "u1", domain.LifelineAudience); ok {
		t.Fatalf("audience was never marked")
	}
}

func TestCooldownStoreOverwrites(t *testing.T) {
	store := NewCooldownStore(testClient(t))
	ctx := context.Background()

	first := time.Date(2026, 3, 18, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	_ = store.MarkUsed(ctx, "u1", domain.LifelinePhoneFriend, first)
	_ = store.MarkUsed(ctx, "u1", domain.LifelinePhoneFriend, second)

	got, ok, err := store.LastUsed(ctx, "u1", domain.LifelinePhoneFriend)
	if err != nil || !ok {
		t.Fatalf("last used: ok=%v err=%v", ok, err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected overwrite to %s, got %s", second, got)
	}
}

type staticLoader struct {
	mu    sync.Mutex
	calls int
	bank  []domain.Question
}

func (l *staticLoader) LoadBank(_ context.Context) ([]domain.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.bank, nil
}

func TestQuestionRepositoryUsedSet(t *testing.T) {
	repo := NewQuestionRepository(testClient(t), &staticLoader{bank: []domain.Question{{ID: 1}}}, time.Hour)
	ctx := context.Background()

	_ = repo.MarkUsed(ctx, 1)
	_ = repo.MarkUsed(ctx, 42)
	_ = repo.MarkUsed(ctx, 42)

	used, err := repo.UsedIDs(ctx)
	if err != nil {
		t.Fatalf("used ids: %v", err)
	}
	if len(used) != 2 {
		t.Fatalf("expected {1, 42}, got %v", used)
	}
	if _, ok := used[42]; !ok {
		t.Fatalf("missing id 42 in %v", used)
	}

	if err := repo.ClearUsed(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	used, _ = repo.UsedIDs(ctx)
	if len(used) != 0 {
		t.Fatalf("expected empty set after clear, got %v", used)
	}
}

func TestQuestionRepositoryCachesBank(t *testing.T) {
	loader := &staticLoader{bank: []domain.Question{{ID: 1}, {ID: 2}}}
	repo := NewQuestionRepository(testClient(t), loader, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bank, err := repo.LoadBank(ctx)
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		if len(bank) != 2 {
			t.Fatalf("unexpected bank %v", bank)
		}
	}

	loader.mu.Lock()
	calls := loader.calls
	loader.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single loader call, got %d", calls)
	}
}
