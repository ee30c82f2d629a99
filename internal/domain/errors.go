package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyActive is returned when a round start races an open round on the same channel.
	ErrAlreadyActive = errors.New("a round is already running on this channel")
	// ErrRoundNotFound is returned when an interaction references a round that is gone or never existed.
	ErrRoundNotFound = errors.New("round not found")
	// ErrRoundExpired is returned when an interaction arrives past the round deadline.
	ErrRoundExpired = errors.New("round answer window has closed")
	// ErrAlreadyAnswered rejects repeat answers; the first recorded label is sticky.
	ErrAlreadyAnswered = errors.New("answer already recorded for this round")
	// ErrInvalidLabel rejects answers outside A-D.
	ErrInvalidLabel = errors.New("label must be one of A, B, C, D")
	// ErrNoActiveRound is returned when a lifeline is invoked with nothing live on the channel.
	ErrNoActiveRound = errors.New("no active round on this channel")
	// ErrLifelineUsed rejects a second fifty-fifty by the same participant within one round.
	ErrLifelineUsed = errors.New("lifeline already used in this round")
	// ErrEmptyBank indicates the question bank has no questions at all.
	ErrEmptyBank = errors.New("question bank is empty")
)

// CooldownError reports that a lifeline is still cooling down for a
// participant. Remaining is always positive.
type CooldownError struct {
	Kind      LifelineKind
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("lifeline %s on cooldown for another %s", e.Kind, e.Remaining)
}
