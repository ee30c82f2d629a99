package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz QuizConfig `yaml:"quiz"`
}

// QuizConfig is the engine's timing and content policy. Zero values
// get the documented defaults; only the bank file is required.
type QuizConfig struct {
	BankFile               string   `yaml:"bank_file"`
	BankTTL                string   `yaml:"bank_ttl"`
	Channels               []string `yaml:"channels"`
	RoundDurationSeconds   int      `yaml:"round_duration_seconds"`
	AlertLeadMinutes       int      `yaml:"alert_lead_minutes"`
	Times                  []string `yaml:"times"`
	CooldownHours          int      `yaml:"cooldown_hours"`
	TickSeconds            int      `yaml:"tick_seconds"`
	FireToleranceMinutes   int      `yaml:"fire_tolerance_minutes"`
	FiftyFiftyOncePerRound *bool    `yaml:"fifty_fifty_once_per_round"`
}

// Load reads YAML config from path and fills in defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate reports the only fatal configuration class: a quiz cannot
// run without a question bank.
func (c Config) Validate() error {
	if c.Quiz.BankFile == "" {
		return fmt.Errorf("quiz.bank_file is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	q := &c.Quiz
	if len(q.Channels) == 0 {
		q.Channels = []string{"quiz-naruto"}
	}
	if q.RoundDurationSeconds <= 0 {
		q.RoundDurationSeconds = 900
	}
	if q.AlertLeadMinutes <= 0 {
		q.AlertLeadMinutes = 10
	}
	if len(q.Times) == 0 {
		q.Times = []string{"10:05", "13:35", "18:39"}
	}
	if q.CooldownHours <= 0 {
		q.CooldownHours = 168
	}
	if q.TickSeconds <= 0 {
		q.TickSeconds = 60
	}
	if q.FireToleranceMinutes <= 0 {
		q.FireToleranceMinutes = 2
	}
}

func (q QuizConfig) RoundDuration() time.Duration {
	return time.Duration(q.RoundDurationSeconds) * time.Second
}

func (q QuizConfig) AlertLead() time.Duration {
	return time.Duration(q.AlertLeadMinutes) * time.Minute
}

func (q QuizConfig) CooldownWindow() time.Duration {
	return time.Duration(q.CooldownHours) * time.Hour
}

func (q QuizConfig) TickInterval() time.Duration {
	return time.Duration(q.TickSeconds) * time.Second
}

func (q QuizConfig) FireTolerance() time.Duration {
	return time.Duration(q.FireToleranceMinutes) * time.Minute
}

// OncePerRound defaults to true when unset; the safe superset keeps
// fifty-fifty limited to one use per participant per round on top of
// the global cooldown.
func (q QuizConfig) OncePerRound() bool {
	if q.FiftyFiftyOncePerRound == nil {
		return true
	}
	return *q.FiftyFiftyOncePerRound
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
