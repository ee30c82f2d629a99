package domain

import (
	"fmt"
	"time"
)

// Label identifies one of the four answer options of a question.
type Label string

const (
	LabelA Label = "A"
	LabelB Label = "B"
	LabelC Label = "C"
	LabelD Label = "D"
)

// Labels lists all answer labels in display order.
var Labels = [4]Label{LabelA, LabelB, LabelC, LabelD}

// Valid reports whether l is one of A-D.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Question is a single bank entry. Immutable once loaded.
type Question struct {
	ID      int              `json:"id"`
	Prompt  string           `json:"prompt"`
	Options map[Label]string `json:"options"`
	Correct Label            `json:"correct"`
}

// Validate checks the bank invariants: positive id, exactly four
// options labeled A-D, and a correct label that is one of them.
func (q Question) Validate() error {
	if q.ID <= 0 {
		return fmt.Errorf("question %d: id must be positive", q.ID)
	}
	if len(q.Options) != len(Labels) {
		return fmt.Errorf("question %d: expected %d options, got %d", q.ID, len(Labels), len(q.Options))
	}
	for _, l := range Labels {
		if _, ok := q.Options[l]; !ok {
			return fmt.Errorf("question %d: missing option %s", q.ID, l)
		}
	}
	if _, ok := q.Options[q.Correct]; !ok {
		return fmt.Errorf("question %d: correct label %q not among options", q.ID, q.Correct)
	}
	return nil
}

// Participant identifies an answering user as seen on the gateway.
type Participant struct {
	ID          string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// LeaderboardEntry is the persisted score record for one participant.
// TotalPoints only ever grows; DailyCounts maps ISO dates (2006-01-02)
// to the number of wins awarded that day and is the source for the
// weekly and monthly standings windows.
type LeaderboardEntry struct {
	ParticipantID string         `json:"userId"`
	DisplayName   string         `json:"displayName"`
	TotalPoints   int            `json:"points"`
	DailyCounts   map[string]int `json:"daily"`
}

// StandingsWindow selects the aggregation period for standings.
type StandingsWindow string

const (
	WindowAllTime StandingsWindow = "all-time"
	WindowWeekly  StandingsWindow = "weekly"
	WindowMonthly StandingsWindow = "monthly"
)

// Standing is one row of an aggregated scoreboard.
type Standing struct {
	ParticipantID string `json:"userId"`
	DisplayName   string `json:"displayName"`
	Points        int    `json:"points"`
}

// LifelineKind names one of the three assist actions.
type LifelineKind string

const (
	LifelineFiftyFifty  LifelineKind = "fifty-fifty"
	LifelineAudience    LifelineKind = "audience"
	LifelinePhoneFriend LifelineKind = "phone-friend"
)

// LifelineKinds lists all lifeline kinds.
var LifelineKinds = [3]LifelineKind{LifelineFiftyFifty, LifelineAudience, LifelinePhoneFriend}

// CooldownRecord marks one consumption of a lifeline by a participant.
type CooldownRecord struct {
	ParticipantID string
	Kind          LifelineKind
	UsedAt        time.Time
}

// FiftyFiftyResult carries the two labels that survive elimination.
// The correct label is always one of them; the order is randomized.
type FiftyFiftyResult struct {
	Remaining []Label `json:"remaining"`
}

// AudienceResult is the percentage distribution over current answers.
// Percentages are independently rounded and all zero when nobody has
// answered yet.
type AudienceResult struct {
	Percentages map[Label]int `json:"percentages"`
	Answers     int           `json:"answers"`
}

// PhoneFriendResult reveals the target's recorded answer, if any.
type PhoneFriendResult struct {
	TargetID  string `json:"targetId"`
	Available bool   `json:"available"`
	Label     Label  `json:"label,omitempty"`
}

// LifelineStatus reports per-kind cooldown availability for a participant.
type LifelineStatus struct {
	Kind      LifelineKind  `json:"kind"`
	Available bool          `json:"available"`
	Remaining time.Duration `json:"remaining"`
}

// RoundOutcome is the terminal tally of a closed round.
type RoundOutcome struct {
	RoundID      string        `json:"roundId"`
	ChannelID    string        `json:"channelId"`
	QuestionID   int           `json:"questionId"`
	Correct      Label         `json:"correct"`
	CorrectText  string        `json:"correctText"`
	Winners      []Participant `json:"winners"`
	Tallies      map[Label]int `json:"tallies"`
	TotalAnswers int           `json:"totalAnswers"`
}

// MessageKind tags outbound gateway messages.
type MessageKind string

const (
	MessageQuestion MessageKind = "question"
	MessageAlert    MessageKind = "alert"
	MessageOutcome  MessageKind = "outcome"
)

// Message is the transport-agnostic content handed to the Publisher.
// Only the fields matching Kind are set.
type Message struct {
	Kind     MessageKind      `json:"kind"`
	Prompt   string           `json:"prompt,omitempty"`
	Options  map[Label]string `json:"options,omitempty"`
	ClosesAt time.Time        `json:"closesAt,omitempty"`
	Text     string           `json:"text,omitempty"`
	Outcome  *RoundOutcome    `json:"outcome,omitempty"`
}
