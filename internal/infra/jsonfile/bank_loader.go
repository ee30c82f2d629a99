package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// bankQuestion is the on-disk shape: options are positional A-D and
// correct is the zero-based index of the right one.
type bankQuestion struct {
	ID       int      `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Correct  int      `json:"correct"`
}

// BankLoader reads the static question bank from a JSON file and
// validates it on every load.
type BankLoader struct {
	path string
}

func NewBankLoader(path string) *BankLoader {
	return &BankLoader{path: path}
}

func (l *BankLoader) LoadBank(_ context.Context) ([]domain.Question, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read bank file: %w", err)
	}

	var raw []bankQuestion
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse bank file %s: %w", l.path, err)
	}
	if len(raw) == 0 {
		return nil, domain.ErrEmptyBank
	}

	seen := make(map[int]struct{}, len(raw))
	questions := make([]domain.Question, 0, len(raw))
	for _, entry := range raw {
		if len(entry.Options) != len(domain.Labels) {
			return nil, fmt.Errorf("question %d: expected %d options, got %d", entry.ID, len(domain.Labels), len(entry.Options))
		}
		if entry.Correct < 0 || entry.Correct >= len(entry.Options) {
			return nil, fmt.Errorf("question %d: correct index %d out of range", entry.ID, entry.Correct)
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("question %d: duplicate id", entry.ID)
		}
		seen[entry.ID] = struct{}{}

		options := make(map[domain.Label]string, len(domain.Labels))
		for i, l := range domain.Labels {
			options[l] = entry.Options[i]
		}
		q := domain.Question{
			ID:      entry.ID,
			Prompt:  entry.Question,
			Options: options,
			Correct: domain.Labels[entry.Correct],
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}
