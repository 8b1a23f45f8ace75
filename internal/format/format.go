// Package format builds and advances brackets. Each tournament format is a
// Strategy; callers pick one with New and never branch on the format again.
package format

import (
	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/utils"
)

type Strategy interface {
	// Generate builds the bracket and every match that is playable up front
	// from teams already in seed order.
	Generate(t *bracket.Tournament, seeded []*bracket.Team) (*Generated, error)
	// Advance moves a freshly decided or cancelled match through the bracket
	// held in st, appending any new matches to st.Matches.
	Advance(st *bracket.State, m *bracket.Match) (Advancement, error)
	// Standings ranks every team in the tournament, best first.
	Standings(st *bracket.State) []bracket.Standing
}

type Options struct {
	// MaxTeams caps the field. Zero falls back to the tournament setting.
	MaxTeams int
	// Legs is 1 or 2 for round robin; the second leg swaps home and away.
	Legs int
	// WinPoints defaults to 3 for round robin and 1 for Swiss.
	WinPoints float64
}

type Generated struct {
	Bracket *bracket.Bracket
	Matches []*bracket.Match
}

type Advancement struct {
	NewMatches []*bracket.Match
	// Complete is set once the last match of the tournament is settled.
	Complete bool
}

func New(f bracket.Format, opts Options) (Strategy, error) {
	switch f {
	case bracket.SingleElimination:
		return &singleElimination{opts: opts}, nil
	case bracket.DoubleElimination:
		return &doubleElimination{opts: opts}, nil
	case bracket.RoundRobin:
		if opts.Legs == 0 {
			opts.Legs = 1
		}
		if opts.Legs != 1 && opts.Legs != 2 {
			return nil, bracket.Validationf("round robin supports 1 or 2 legs, got %d", opts.Legs)
		}
		if opts.WinPoints == 0 {
			opts.WinPoints = 3
		}
		return &roundRobin{opts: opts}, nil
	case bracket.Swiss:
		if opts.WinPoints == 0 {
			opts.WinPoints = 1
		}
		return &swiss{opts: opts}, nil
	default:
		return nil, bracket.Validationf("unknown tournament format %q", f)
	}
}

func validateField(t *bracket.Tournament, seeded []*bracket.Team, opts Options) error {
	if len(seeded) < 2 {
		return bracket.Validationf("at least 2 confirmed teams are required, got %d", len(seeded))
	}
	limit := opts.MaxTeams
	if t.MaxTeams > 0 && (limit == 0 || t.MaxTeams < limit) {
		limit = t.MaxTeams
	}
	if limit > 0 && len(seeded) > limit {
		return bracket.Validationf("%d teams exceed the maximum of %d", len(seeded), limit)
	}
	seen := make(map[uuid.UUID]bool, len(seeded))
	for _, team := range seeded {
		if seen[team.ID] {
			return bracket.Validationf("team %s is entered twice", team.ID)
		}
		seen[team.ID] = true
	}
	return nil
}

func newBracket(t *bracket.Tournament, size, rounds int) *bracket.Bracket {
	return &bracket.Bracket{
		ID:            uuid.New(),
		TournamentID:  t.ID,
		Format:        t.Format,
		Size:          size,
		Rounds:        rounds,
		CurrentRound:  1,
		SeedingMethod: t.SeedingMethod,
	}
}

// matchMaker numbers matches sequentially across the tournament.
type matchMaker struct {
	tournamentID uuid.UUID
	number       int
	created      []*bracket.Match
}

func newMatchMaker(tournamentID uuid.UUID, existing int) *matchMaker {
	return &matchMaker{tournamentID: tournamentID, number: existing}
}

func (mm *matchMaker) create(n *bracket.Node, stage, priority int) (*bracket.Match, error) {
	if n.Teams[0] == nil || n.Teams[1] == nil {
		return nil, bracket.Integrityf("node %d has an empty slot", n.Index)
	}
	if *n.Teams[0] == *n.Teams[1] {
		return nil, bracket.Integrityf("node %d pairs team %s with itself", n.Index, *n.Teams[0])
	}
	if n.MatchID != nil {
		return nil, bracket.Integrityf("node %d already has match %s", n.Index, *n.MatchID)
	}
	mm.number++
	m := &bracket.Match{
		ID:           uuid.New(),
		TournamentID: mm.tournamentID,
		NodeIndex:    n.Index,
		Side:         n.Side,
		Round:        n.Round,
		Stage:        stage,
		Number:       mm.number,
		Team1:        *n.Teams[0],
		Team2:        *n.Teams[1],
		Status:       bracket.MatchScheduled,
		Priority:     priority,
	}
	n.MatchID = utils.Ptr(m.ID)
	mm.created = append(mm.created, m)
	return m, nil
}

// nodeMatch checks that m is the match held by its node.
func nodeMatch(b *bracket.Bracket, m *bracket.Match) (*bracket.Node, error) {
	if b == nil {
		return nil, bracket.Integrityf("tournament %s has no bracket", m.TournamentID)
	}
	n, err := b.Node(m.NodeIndex)
	if err != nil {
		return nil, err
	}
	if n.MatchID == nil || *n.MatchID != m.ID {
		return nil, bracket.Integrityf("match %s is not attached to node %d", m.ID, m.NodeIndex)
	}
	return n, nil
}

// refreshCurrentRound points the bracket at the earliest stage that still
// has unsettled matches.
func refreshCurrentRound(st *bracket.State) {
	if st.Bracket == nil {
		return
	}
	lowest, highest := 0, 0
	for _, m := range st.Matches {
		if m.Stage > highest {
			highest = m.Stage
		}
		if !m.IsSettled() && (lowest == 0 || m.Stage < lowest) {
			lowest = m.Stage
		}
	}
	if lowest == 0 {
		lowest = highest
	}
	if lowest > st.Bracket.CurrentRound {
		st.Bracket.CurrentRound = lowest
	}
}

func allSettled(matches []*bracket.Match) bool {
	for _, m := range matches {
		if !m.IsSettled() {
			return false
		}
	}
	return true
}
