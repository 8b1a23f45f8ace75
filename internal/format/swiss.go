package format

import (
	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/utils"
)

// swiss plays ceil(log2 n) rounds. Only round one exists up front; each
// later round is paired once the previous one is settled. With an odd field
// the lowest ranked team that has not had a bye sits out and scores a win.
type swiss struct {
	opts Options
}

func (s *swiss) Generate(t *bracket.Tournament, seeded []*bracket.Team) (*Generated, error) {
	if err := validateField(t, seeded, s.opts); err != nil {
		return nil, err
	}
	rounds := bracket.Log2(bracket.NextPow2(len(seeded)))
	b := newBracket(t, len(seeded), rounds)
	mm := newMatchMaker(t.ID, 0)

	ids := make([]uuid.UUID, len(seeded))
	for i, team := range seeded {
		ids[i] = team.ID
	}
	if len(ids)%2 == 1 {
		bye := ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		if err := addGroupNode(b, mm, 1, len(ids)/2, &bye, nil); err != nil {
			return nil, err
		}
	}
	half := len(ids) / 2
	for i := 0; i < half; i++ {
		if err := addGroupNode(b, mm, 1, i, utils.Ptr(ids[i]), utils.Ptr(ids[i+half])); err != nil {
			return nil, err
		}
	}
	return &Generated{Bracket: b, Matches: mm.created}, nil
}

func (s *swiss) Advance(st *bracket.State, m *bracket.Match) (Advancement, error) {
	if _, err := nodeMatch(st.Bracket, m); err != nil {
		return Advancement{}, err
	}
	if !m.IsSettled() {
		return Advancement{}, bracket.Integrityf("match %s has no result to advance", m.ID)
	}
	b := st.Bracket
	if !allSettled(st.RoundMatches(bracket.GroupSide, m.Round)) {
		return Advancement{}, nil
	}
	if m.Round >= b.Rounds {
		b.Finalized = true
		refreshCurrentRound(st)
		return Advancement{Complete: true}, nil
	}
	if len(b.RoundNodes(bracket.GroupSide, m.Round+1)) > 0 {
		return Advancement{}, bracket.Integrityf("round %d is already paired", m.Round+1)
	}

	mm := newMatchMaker(m.TournamentID, len(st.Matches))
	if err := s.pairRound(st, mm, m.Round+1); err != nil {
		return Advancement{}, err
	}
	st.Matches = append(st.Matches, mm.created...)
	b.CurrentRound = m.Round + 1
	return Advancement{NewMatches: mm.created}, nil
}

// pairRound pairs the current ranking top down, closest score first,
// without rematches. The search is bounded by maxPairingSteps.
func (s *swiss) pairRound(st *bracket.State, mm *matchMaker, round int) error {
	played := make(map[uuid.UUID]map[uuid.UUID]bool)
	for _, m := range st.Matches {
		if m.Status == bracket.MatchCancelled {
			continue
		}
		for _, pair := range [][2]uuid.UUID{{m.Team1, m.Team2}, {m.Team2, m.Team1}} {
			if played[pair[0]] == nil {
				played[pair[0]] = make(map[uuid.UUID]bool)
			}
			played[pair[0]][pair[1]] = true
		}
	}
	hadBye := make(map[uuid.UUID]bool)
	for _, n := range st.Bracket.Nodes {
		if n.IsBye && n.ByeTeam != nil {
			hadBye[*n.ByeTeam] = true
		}
	}

	var order []uuid.UUID
	for _, row := range s.Standings(st) {
		// withdrawn teams drop out of the pairing
		if t, ok := st.Team(row.TeamID); ok && !t.IsConfirmed() {
			continue
		}
		order = append(order, row.TeamID)
	}

	p := &pairing{played: played, limit: maxPairingSteps}
	var (
		pairs [][2]uuid.UUID
		bye   *uuid.UUID
		ok    bool
	)
	if len(order)%2 == 0 {
		pairs, ok = p.pair(order)
	} else {
		// The lowest ranked team without a bye sits out, unless that leaves
		// only rematches; then the next candidate up is tried.
		for _, i := range byeCandidates(order, hadBye) {
			rest := append(append([]uuid.UUID(nil), order[:i]...), order[i+1:]...)
			if pairs, ok = p.pair(rest); ok {
				bye = utils.Ptr(order[i])
				break
			}
			if p.exhausted() {
				break
			}
		}
	}
	if p.exhausted() {
		return bracket.Infeasiblef("pairing round %d gave up after %d steps", round, p.limit)
	}
	if !ok {
		return bracket.Infeasiblef("no rematch-free pairing exists for round %d", round)
	}
	for position, pr := range pairs {
		if err := addGroupNode(st.Bracket, mm, round, position, utils.Ptr(pr[0]), utils.Ptr(pr[1])); err != nil {
			return err
		}
	}
	if bye != nil {
		return addGroupNode(st.Bracket, mm, round, len(pairs), bye, nil)
	}
	return nil
}

// byeCandidates orders positions in order for the bye: teams without a
// bye from the bottom up, then the rest from the bottom up.
func byeCandidates(order []uuid.UUID, hadBye map[uuid.UUID]bool) []int {
	var fresh, repeat []int
	for i := len(order) - 1; i >= 0; i-- {
		if hadBye[order[i]] {
			repeat = append(repeat, i)
		} else {
			fresh = append(fresh, i)
		}
	}
	return append(fresh, repeat...)
}

// maxPairingSteps caps the backtracking over rematch-free pairings.
const maxPairingSteps = 50_000

type pairing struct {
	played map[uuid.UUID]map[uuid.UUID]bool
	steps  int
	limit  int
}

func (p *pairing) exhausted() bool {
	return p.steps > p.limit
}

// pair matches order top down, closest rank first, backtracking whenever
// the only remaining opponents are rematches.
func (p *pairing) pair(order []uuid.UUID) ([][2]uuid.UUID, bool) {
	if len(order)%2 == 1 {
		return nil, false
	}
	if len(order) == 0 {
		return nil, true
	}
	first := order[0]
	for j := 1; j < len(order); j++ {
		if p.played[first][order[j]] {
			continue
		}
		p.steps++
		if p.exhausted() {
			return nil, false
		}
		rest := make([]uuid.UUID, 0, len(order)-2)
		rest = append(rest, order[1:j]...)
		rest = append(rest, order[j+1:]...)
		if tail, ok := p.pair(rest); ok {
			return append([][2]uuid.UUID{{first, order[j]}}, tail...), true
		}
	}
	return nil, false
}

// Standings ranks by match points, then Buchholz, then head to head.
func (s *swiss) Standings(st *bracket.State) []bracket.Standing {
	tbl := newTable(st)
	beat := make(map[uuid.UUID]map[uuid.UUID]bool)
	for _, m := range st.Matches {
		tbl.record(m, s.opts.WinPoints)
		if loser, ok := m.Loser(); ok && m.IsDecided() {
			if beat[*m.Winner] == nil {
				beat[*m.Winner] = make(map[uuid.UUID]bool)
			}
			beat[*m.Winner][loser] = true
		}
	}
	tbl.countByes(s.opts.WinPoints)

	for _, m := range st.Matches {
		if !m.IsDecided() {
			continue
		}
		a, b := tbl.rows[m.Team1], tbl.rows[m.Team2]
		if a == nil || b == nil {
			continue
		}
		a.Buchholz += b.Points
		b.Buchholz += a.Points
	}

	return tbl.ranked(func(a, b *bracket.Standing) bool {
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Buchholz != b.Buchholz {
			return a.Buchholz > b.Buchholz
		}
		if beat[a.TeamID][b.TeamID] != beat[b.TeamID][a.TeamID] {
			return beat[a.TeamID][b.TeamID]
		}
		return tbl.seeds[a.TeamID] < tbl.seeds[b.TeamID]
	})
}
