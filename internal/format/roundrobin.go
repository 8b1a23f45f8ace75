package format

import (
	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/utils"
)

const groupPriority = 50

type roundRobin struct {
	opts Options
}

// Generate lays out every fixture up front using the circle (Berger)
// rotation: the first team stays fixed while the rest rotate one place per
// round. An odd field is padded with a bye.
func (s *roundRobin) Generate(t *bracket.Tournament, seeded []*bracket.Team) (*Generated, error) {
	if err := validateField(t, seeded, s.opts); err != nil {
		return nil, err
	}
	n := len(seeded) + len(seeded)%2
	order := make([]*uuid.UUID, n)
	for i, team := range seeded {
		order[i] = utils.Ptr(team.ID)
	}

	perLeg := n - 1
	b := newBracket(t, n, perLeg*s.opts.Legs)
	mm := newMatchMaker(t.ID, 0)

	for leg := 0; leg < s.opts.Legs; leg++ {
		rot := make([]*uuid.UUID, n)
		copy(rot, order)
		for r := 0; r < perLeg; r++ {
			round := leg*perLeg + r + 1
			for i := 0; i < n/2; i++ {
				home, away := rot[i], rot[n-1-i]
				// alternate the fixed team's home side
				if i == 0 && r%2 == 1 {
					home, away = away, home
				}
				if leg == 1 {
					home, away = away, home
				}
				if err := addGroupNode(b, mm, round, i, home, away); err != nil {
					return nil, err
				}
			}
			last := rot[n-1]
			copy(rot[2:], rot[1:n-1])
			rot[1] = last
		}
	}
	return &Generated{Bracket: b, Matches: mm.created}, nil
}

// addGroupNode records one pairing. A nil side is the bye placeholder.
func addGroupNode(b *bracket.Bracket, mm *matchMaker, round, position int, home, away *uuid.UUID) error {
	idx := b.AddNode(bracket.NewNode(bracket.GroupSide, round, position))
	n := &b.Nodes[idx]
	switch {
	case home == nil && away == nil:
		return bracket.Integrityf("round %d pairs two byes", round)
	case home == nil || away == nil:
		team := home
		if team == nil {
			team = away
		}
		n.Teams[0] = utils.Ptr(*team)
		n.Void[1] = true
		n.IsBye = true
		n.ByeTeam = utils.Ptr(*team)
		return nil
	default:
		n.Teams = [2]*uuid.UUID{utils.Ptr(*home), utils.Ptr(*away)}
		_, err := mm.create(n, round, groupPriority)
		return err
	}
}

func (s *roundRobin) Advance(st *bracket.State, m *bracket.Match) (Advancement, error) {
	if _, err := nodeMatch(st.Bracket, m); err != nil {
		return Advancement{}, err
	}
	if !m.IsSettled() {
		return Advancement{}, bracket.Integrityf("match %s has no result to advance", m.ID)
	}
	refreshCurrentRound(st)
	if !allSettled(st.Matches) {
		return Advancement{}, nil
	}
	st.Bracket.Finalized = true
	return Advancement{Complete: true}, nil
}

// Standings ranks by points, then set difference, then game difference.
func (s *roundRobin) Standings(st *bracket.State) []bracket.Standing {
	tbl := newTable(st)
	for _, m := range st.Matches {
		tbl.record(m, s.opts.WinPoints)
	}
	tbl.countByes(0)
	return tbl.ranked(func(a, b *bracket.Standing) bool {
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.SetDiff() != b.SetDiff() {
			return a.SetDiff() > b.SetDiff()
		}
		if a.GameDiff() != b.GameDiff() {
			return a.GameDiff() > b.GameDiff()
		}
		return tbl.seeds[a.TeamID] < tbl.seeds[b.TeamID]
	})
}
