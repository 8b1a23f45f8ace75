package bracket

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchScheduled  MatchStatus = "scheduled"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchWalkover   MatchStatus = "walkover"
	MatchCancelled  MatchStatus = "cancelled"
	MatchPostponed  MatchStatus = "postponed"
)

type Match struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournament_id"`

	// Position in the bracket for reconstructing the view. NodeIndex is -1
	// for matches without a node.
	NodeIndex int  `db:"node_index" json:"node_index"`
	Side      Side `db:"side" json:"side"`
	Round     int  `db:"round" json:"round"`
	Stage     int  `db:"stage" json:"stage"`
	Number    int  `db:"number" json:"number"`

	Team1 uuid.UUID `db:"team1_id" json:"team1_id"`
	Team2 uuid.UUID `db:"team2_id" json:"team2_id"`

	Status    MatchStatus `db:"status" json:"status"`
	Team1Sets []int       `db:"-" json:"team1_sets,omitempty"`
	Team2Sets []int       `db:"-" json:"team2_sets,omitempty"`
	Winner    *uuid.UUID  `db:"winner_id" json:"winner_id,omitempty"`
	Priority  int         `db:"priority" json:"priority"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchScheduled:  {MatchInProgress, MatchCompleted, MatchWalkover, MatchCancelled, MatchPostponed},
	MatchInProgress: {MatchCompleted, MatchWalkover, MatchCancelled, MatchPostponed},
	MatchPostponed:  {MatchScheduled, MatchInProgress, MatchWalkover, MatchCancelled},
	MatchCancelled:  {MatchWalkover},
}

// Transition moves the match along its state machine. A match that already
// has a winner is an integrity error so results are never recorded twice.
func (m *Match) Transition(to MatchStatus) error {
	if m.Winner != nil {
		return Integrityf("match %s already has a winner", m.ID)
	}
	for _, next := range matchTransitions[m.Status] {
		if next == to {
			m.Status = to
			return nil
		}
	}
	return Validationf("match %s cannot move from %s to %s", m.ID, m.Status, to)
}

func (m *Match) HasTeam(id uuid.UUID) bool {
	return m.Team1 == id || m.Team2 == id
}

func (m *Match) Opponent(id uuid.UUID) uuid.UUID {
	if m.Team1 == id {
		return m.Team2
	}
	return m.Team1
}

// Loser is only meaningful once a winner is set.
func (m *Match) Loser() (uuid.UUID, bool) {
	if m.Winner == nil {
		return uuid.Nil, false
	}
	return m.Opponent(*m.Winner), true
}

func (m *Match) IsDecided() bool {
	return m.Winner != nil && (m.Status == MatchCompleted || m.Status == MatchWalkover)
}

// IsSettled reports whether the match no longer needs to be played.
func (m *Match) IsSettled() bool {
	return m.IsDecided() || m.Status == MatchCancelled
}

// IsPending reports whether the match still needs a slot on the calendar.
func (m *Match) IsPending() bool {
	return m.Status == MatchScheduled || m.Status == MatchPostponed
}

// SetsWon counts sets won by each side.
func (m *Match) SetsWon() (int, int) {
	var a, b int
	for i := range m.Team1Sets {
		if i >= len(m.Team2Sets) {
			break
		}
		switch {
		case m.Team1Sets[i] > m.Team2Sets[i]:
			a++
		case m.Team2Sets[i] > m.Team1Sets[i]:
			b++
		}
	}
	return a, b
}

func (m *Match) GamesWon() (int, int) {
	var a, b int
	for _, g := range m.Team1Sets {
		a += g
	}
	for _, g := range m.Team2Sets {
		b += g
	}
	return a, b
}

// ValidateScore checks per-set scores and that they agree with the winner.
// Empty scores are accepted.
func ValidateScore(team1Sets, team2Sets []int, team1Wins bool) error {
	if len(team1Sets) == 0 && len(team2Sets) == 0 {
		return nil
	}
	if len(team1Sets) != len(team2Sets) {
		return Validationf("score has %d sets for team 1 and %d for team 2", len(team1Sets), len(team2Sets))
	}
	if len(team1Sets) > 5 {
		return Validationf("score has %d sets, at most 5 allowed", len(team1Sets))
	}
	var a, b int
	for i := range team1Sets {
		if team1Sets[i] < 0 || team2Sets[i] < 0 {
			return Validationf("set %d has a negative game count", i+1)
		}
		if team1Sets[i] == team2Sets[i] {
			return Validationf("set %d is tied %d-%d", i+1, team1Sets[i], team2Sets[i])
		}
		if team1Sets[i] > team2Sets[i] {
			a++
		} else {
			b++
		}
	}
	if (a > b) != team1Wins || a == b {
		return Validationf("score %d-%d in sets does not match the declared winner", a, b)
	}
	return nil
}
