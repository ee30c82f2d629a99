package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: "8080"
quiz:
  bank_file: questions.json
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	q := cfg.Quiz
	if q.RoundDuration() != 15*time.Minute {
		t.Fatalf("unexpected round duration %s", q.RoundDuration())
	}
	if q.AlertLead() != 10*time.Minute {
		t.Fatalf("unexpected alert lead %s", q.AlertLead())
	}
	if q.CooldownWindow() != 168*time.Hour {
		t.Fatalf("unexpected cooldown %s", q.CooldownWindow())
	}
	if q.TickInterval() != time.Minute {
		t.Fatalf("unexpected tick interval %s", q.TickInterval())
	}
	if q.FireTolerance() != 2*time.Minute {
		t.Fatalf("unexpected tolerance %s", q.FireTolerance())
	}
	if len(q.Times) != 3 || q.Times[0] != "10:05" {
		t.Fatalf("unexpected times %v", q.Times)
	}
	if len(q.Channels) != 1 || q.Channels[0] != "quiz-naruto" {
		t.Fatalf("unexpected channels %v", q.Channels)
	}
	if !q.OncePerRound() {
		t.Fatalf("once-per-round must default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
quiz:
  bank_file: bank.json
  round_duration_seconds: 300
  cooldown_hours: 24
  times: ["09:00", "21:00"]
  channels: ["general", "trivia"]
  fifty_fifty_once_per_round: false
redis:
  addr: "localhost:6379"
  db: 3
postgres:
  url: "postgres://localhost/quiz"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Quiz.RoundDuration() != 5*time.Minute {
		t.Fatalf("unexpected duration %s", cfg.Quiz.RoundDuration())
	}
	if cfg.Quiz.CooldownWindow() != 24*time.Hour {
		t.Fatalf("unexpected cooldown %s", cfg.Quiz.CooldownWindow())
	}
	if len(cfg.Quiz.Times) != 2 || cfg.Quiz.Times[1] != "21:00" {
		t.Fatalf("unexpected times %v", cfg.Quiz.Times)
	}
	if len(cfg.Quiz.Channels) != 2 {
		t.Fatalf("unexpected channels %v", cfg.Quiz.Channels)
	}
	if cfg.Quiz.OncePerRound() {
		t.Fatalf("expected once-per-round disabled")
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Postgres.URL == "" {
		t.Fatalf("postgres url not parsed")
	}
}

func TestValidateRequiresBankFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `server: {port: "8080"}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing bank_file to fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected missing config file to fail")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Hour); got != time.Hour {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("30m", time.Hour); got != 30*time.Minute {
		t.Fatalf("expected parsed value, got %s", got)
	}
	if got := TTLDuration("bogus", time.Hour); got != time.Hour {
		t.Fatalf("expected fallback on parse error, got %s", got)
	}
}
