package format

import (
	"sort"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/utils"
)

// seedOrder lists 0-based seeds in bracket slot order for a power of two
// field, so seed 1 meets the last seed and the top two can only meet in
// the final. The higher index of each pair is always the weaker seed,
// which keeps byes on odd slots.
func seedOrder(size int) []int {
	if size == 0 {
		return nil
	}
	order := []int{0}
	for len(order) < size {
		next := make([]int, 0, len(order)*2)
		count := len(order) * 2
		for _, seed := range order {
			next = append(next, seed, (count-1)-seed)
		}
		order = next
	}
	return order
}

// buildWinners adds the winners bracket to the arena, starting from the
// final and working backwards. It returns arena indices by round and
// position; index 0 is unused.
func buildWinners(b *bracket.Bracket, rounds int) [][]int {
	idx := make([][]int, rounds+1)
	for r := rounds; r >= 1; r-- {
		count := 1 << (rounds - r)
		idx[r] = make([]int, count)
		for p := 0; p < count; p++ {
			i := b.AddNode(bracket.NewNode(bracket.WinnersSide, r, p))
			idx[r][p] = i
			if r < rounds {
				linkWinner(b, i, idx[r+1][p/2], p%2)
			}
		}
	}
	return idx
}

func linkWinner(b *bracket.Bracket, from, to, slot int) {
	b.Nodes[from].WinnerTo = to
	b.Nodes[from].WinnerSlot = slot
	b.Nodes[to].Parents[slot] = from
}

func linkLoser(b *bracket.Bracket, from, to, slot int) {
	b.Nodes[from].LoserTo = to
	b.Nodes[from].LoserSlot = slot
	b.Nodes[to].Parents[slot] = from
}

// tree moves teams along node links, turning half-empty nodes into byes and
// full nodes into matches.
type tree struct {
	b        *bracket.Bracket
	mm       *matchMaker
	stage    func(n *bracket.Node) int
	priority func(n *bracket.Node) int
}

// place fills one slot of a node. A nil team marks the slot void.
func (tr *tree) place(idx, slot int, team *uuid.UUID) error {
	n, err := tr.b.Node(idx)
	if err != nil {
		return err
	}
	if n.Teams[slot] != nil || n.Void[slot] {
		return bracket.Integrityf("%s round %d node %d slot %d is already filled", n.Side, n.Round, n.Position, slot)
	}
	if team == nil {
		n.Void[slot] = true
	} else {
		n.Teams[slot] = utils.Ptr(*team)
	}
	return tr.settle(n)
}

func (tr *tree) settle(n *bracket.Node) error {
	if !n.Resolved() {
		return nil
	}
	switch {
	case n.IsDead():
		return tr.forward(n, nil, nil)
	case n.Void[0] || n.Void[1]:
		team := n.Teams[0]
		if team == nil {
			team = n.Teams[1]
		}
		n.IsBye = true
		n.ByeTeam = utils.Ptr(*team)
		return tr.forward(n, team, nil)
	default:
		_, err := tr.mm.create(n, tr.stage(n), tr.priority(n))
		return err
	}
}

// forward sends the winner and loser of a resolved node along its links.
func (tr *tree) forward(n *bracket.Node, winner, loser *uuid.UUID) error {
	if err := tr.send(n, n.WinnerTo, n.WinnerSlot, winner); err != nil {
		return err
	}
	return tr.send(n, n.LoserTo, n.LoserSlot, loser)
}

func (tr *tree) send(from *bracket.Node, to, slot int, team *uuid.UUID) error {
	if to == bracket.NoNode {
		return nil
	}
	target, err := tr.b.Node(to)
	if err != nil {
		return err
	}
	if tr.stage(target) <= tr.stage(from) {
		return bracket.Integrityf("node %d at stage %d links back to stage %d", from.Index, tr.stage(from), tr.stage(target))
	}
	return tr.place(to, slot, team)
}

// seedFirstRound drops the seeded teams into the round one slots; slots
// past the field become void and turn their node into a bye.
func seedFirstRound(tr *tree, first []int, seeded []*bracket.Team) error {
	order := seedOrder(len(first) * 2)
	for p, idx := range first {
		for slot := 0; slot < 2; slot++ {
			var team *uuid.UUID
			if seed := order[2*p+slot]; seed < len(seeded) {
				team = utils.Ptr(seeded[seed].ID)
			}
			if err := tr.place(idx, slot, team); err != nil {
				return err
			}
		}
	}
	return nil
}

func advanceTree(st *bracket.State, m *bracket.Match, tr *tree) (Advancement, error) {
	n, err := nodeMatch(st.Bracket, m)
	if err != nil {
		return Advancement{}, err
	}
	// A cancelled knockout match leaves the bracket waiting on a manual decision.
	if m.Status == bracket.MatchCancelled {
		refreshCurrentRound(st)
		return Advancement{}, nil
	}
	if !m.IsDecided() {
		return Advancement{}, bracket.Integrityf("match %s has no result to advance", m.ID)
	}
	loser, _ := m.Loser()
	if err := tr.forward(n, m.Winner, &loser); err != nil {
		return Advancement{}, err
	}

	st.Matches = append(st.Matches, tr.mm.created...)
	adv := Advancement{NewMatches: tr.mm.created}
	if n.WinnerTo == bracket.NoNode {
		adv.Complete = true
		st.Bracket.Finalized = true
	}
	refreshCurrentRound(st)
	return adv, nil
}

type singleElimination struct {
	opts Options
}

func (s *singleElimination) tree(b *bracket.Bracket, mm *matchMaker) *tree {
	return &tree{
		b:     b,
		mm:    mm,
		stage: func(n *bracket.Node) int { return n.Round },
		priority: func(n *bracket.Node) int {
			return max(10, 100-10*(b.Rounds-n.Round))
		},
	}
}

func (s *singleElimination) Generate(t *bracket.Tournament, seeded []*bracket.Team) (*Generated, error) {
	if err := validateField(t, seeded, s.opts); err != nil {
		return nil, err
	}
	size := bracket.NextPow2(len(seeded))
	rounds := bracket.Log2(size)
	b := newBracket(t, size, rounds)

	idx := buildWinners(b, rounds)
	tr := s.tree(b, newMatchMaker(t.ID, 0))
	if err := seedFirstRound(tr, idx[1], seeded); err != nil {
		return nil, err
	}
	return &Generated{Bracket: b, Matches: tr.mm.created}, nil
}

func (s *singleElimination) Advance(st *bracket.State, m *bracket.Match) (Advancement, error) {
	if st.Bracket == nil {
		return Advancement{}, bracket.Integrityf("tournament %s has no bracket", m.TournamentID)
	}
	return advanceTree(st, m, s.tree(st.Bracket, newMatchMaker(m.TournamentID, len(st.Matches))))
}

func (s *singleElimination) Standings(st *bracket.State) []bracket.Standing {
	return eliminationStandings(st)
}

// doubleElimination gives every team a second life in the losers bracket.
// The losers bracket has 2(W-1) rounds for W winners rounds: odd rounds
// merge pairs of survivors, even rounds take the losers of the next winners
// round. The grand final is a single match between both champions.
type doubleElimination struct {
	opts Options
}

func (s *doubleElimination) tree(b *bracket.Bracket, mm *matchMaker) *tree {
	return &tree{
		b:  b,
		mm: mm,
		stage: func(n *bracket.Node) int {
			switch n.Side {
			case bracket.LosersSide:
				return n.Round + 1
			case bracket.FinalsSide:
				return 2 * b.Rounds
			default:
				return n.Round
			}
		},
		priority: func(n *bracket.Node) int {
			switch n.Side {
			case bracket.FinalsSide:
				return 100
			case bracket.LosersSide:
				return max(10, 80-5*(b.LosersRounds-n.Round))
			default:
				return max(10, 90-10*(b.Rounds-n.Round))
			}
		},
	}
}

func (s *doubleElimination) Generate(t *bracket.Tournament, seeded []*bracket.Team) (*Generated, error) {
	if err := validateField(t, seeded, s.opts); err != nil {
		return nil, err
	}
	size := bracket.NextPow2(len(seeded))
	w := bracket.Log2(size)
	l := 2 * (w - 1)
	b := newBracket(t, size, w)
	b.LosersRounds = l

	wb := buildWinners(b, w)
	lb := make([][]int, l+1)
	for j := 1; j <= l; j++ {
		count := size >> ((j+1)/2 + 1)
		lb[j] = make([]int, count)
		for p := 0; p < count; p++ {
			lb[j][p] = b.AddNode(bracket.NewNode(bracket.LosersSide, j, p))
		}
	}
	gf := b.AddNode(bracket.NewNode(bracket.FinalsSide, 1, 0))

	linkWinner(b, wb[w][0], gf, 0)
	if l == 0 {
		linkLoser(b, wb[1][0], gf, 1)
	} else {
		for p, i := range wb[1] {
			linkLoser(b, i, lb[1][p/2], p%2)
		}
		// Reverse every other drop so rematches from the winners bracket
		// are pushed as late as possible.
		for k := 2; k <= w; k++ {
			count := len(wb[k])
			for q, i := range wb[k] {
				target := q
				if k%2 == 0 {
					target = count - 1 - q
				}
				linkLoser(b, i, lb[2*(k-1)][target], 1)
			}
		}
		for j := 1; j <= l; j++ {
			for p, i := range lb[j] {
				switch {
				case j == l:
					linkWinner(b, i, gf, 1)
				case j%2 == 1:
					linkWinner(b, i, lb[j+1][p], 0)
				default:
					linkWinner(b, i, lb[j+1][p/2], p%2)
				}
			}
		}
	}

	tr := s.tree(b, newMatchMaker(t.ID, 0))
	if err := seedFirstRound(tr, wb[1], seeded); err != nil {
		return nil, err
	}
	return &Generated{Bracket: b, Matches: tr.mm.created}, nil
}

func (s *doubleElimination) Advance(st *bracket.State, m *bracket.Match) (Advancement, error) {
	if st.Bracket == nil {
		return Advancement{}, bracket.Integrityf("tournament %s has no bracket", m.TournamentID)
	}
	return advanceTree(st, m, s.tree(st.Bracket, newMatchMaker(m.TournamentID, len(st.Matches))))
}

func (s *doubleElimination) Standings(st *bracket.State) []bracket.Standing {
	return eliminationStandings(st)
}

// eliminationStandings ranks teams still alive first, then by how late they
// were knocked out, then by wins and seed.
func eliminationStandings(st *bracket.State) []bracket.Standing {
	tbl := newTable(st)
	for _, m := range st.Matches {
		tbl.record(m, 1)
		if !m.IsDecided() || st.Bracket == nil {
			continue
		}
		n, err := st.Bracket.Node(m.NodeIndex)
		if err != nil || n.LoserTo != bracket.NoNode {
			continue
		}
		if loser, ok := m.Loser(); ok {
			if row := tbl.rows[loser]; row != nil {
				row.EliminatedIn = m.Stage
			}
		}
	}
	tbl.countByes(0)

	return tbl.ranked(func(a, b *bracket.Standing) bool {
		ea, eb := a.EliminatedIn, b.EliminatedIn
		if (ea == 0) != (eb == 0) {
			return ea == 0
		}
		if ea != eb {
			return ea > eb
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return tbl.seeds[a.TeamID] < tbl.seeds[b.TeamID]
	})
}

const unseeded = 1 << 20

// table accumulates per-team records for every format.
type table struct {
	st    *bracket.State
	rows  map[uuid.UUID]*bracket.Standing
	order []uuid.UUID
	seeds map[uuid.UUID]int
}

// newTable holds a row for every team that appears in the bracket.
func newTable(st *bracket.State) *table {
	tbl := &table{st: st, rows: make(map[uuid.UUID]*bracket.Standing), seeds: make(map[uuid.UUID]int)}
	add := func(id *uuid.UUID) {
		if id == nil || tbl.rows[*id] != nil {
			return
		}
		tbl.rows[*id] = &bracket.Standing{TeamID: *id}
		tbl.order = append(tbl.order, *id)
		tbl.seeds[*id] = unseeded
		if t, ok := st.Team(*id); ok && t.Seed > 0 {
			tbl.seeds[*id] = t.Seed
		}
	}
	if st.Bracket != nil {
		for i := range st.Bracket.Nodes {
			add(st.Bracket.Nodes[i].Teams[0])
			add(st.Bracket.Nodes[i].Teams[1])
		}
	}
	for _, m := range st.Matches {
		add(&m.Team1)
		add(&m.Team2)
	}
	return tbl
}

func (tbl *table) record(m *bracket.Match, winPoints float64) {
	if !m.IsDecided() {
		return
	}
	a, b := tbl.rows[m.Team1], tbl.rows[m.Team2]
	if a == nil || b == nil {
		return
	}
	a.Played++
	b.Played++
	if *m.Winner == m.Team1 {
		a.Wins++
		a.Points += winPoints
		b.Losses++
	} else {
		b.Wins++
		b.Points += winPoints
		a.Losses++
	}
	s1, s2 := m.SetsWon()
	g1, g2 := m.GamesWon()
	a.SetsFor += s1
	a.SetsAgainst += s2
	b.SetsFor += s2
	b.SetsAgainst += s1
	a.GamesFor += g1
	a.GamesAgainst += g2
	b.GamesFor += g2
	b.GamesAgainst += g1
}

func (tbl *table) countByes(points float64) {
	if tbl.st.Bracket == nil {
		return
	}
	for _, n := range tbl.st.Bracket.Nodes {
		if !n.IsBye || n.ByeTeam == nil {
			continue
		}
		if row := tbl.rows[*n.ByeTeam]; row != nil {
			row.Byes++
			row.Points += points
		}
	}
}

func (tbl *table) ranked(less func(a, b *bracket.Standing) bool) []bracket.Standing {
	rows := make([]*bracket.Standing, 0, len(tbl.order))
	for _, id := range tbl.order {
		rows = append(rows, tbl.rows[id])
	}
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	out := make([]bracket.Standing, len(rows))
	for i, r := range rows {
		r.Rank = i + 1
		out[i] = *r
	}
	return out
}
