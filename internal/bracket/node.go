package bracket

import (
	"math/bits"
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	WinnersSide Side = "winners"
	LosersSide  Side = "losers"
	FinalsSide  Side = "finals"
	// GroupSide holds round robin and Swiss rounds.
	GroupSide Side = "group"
)

// NoNode marks an absent arena link.
const NoNode = -1

// Node is one (side, round, position) slot. Links point into the bracket's
// flat node arena; an elimination node in round r > 1 has parents at
// positions 2p and 2p+1 of round r-1.
type Node struct {
	Index    int  `json:"index"`
	Side     Side `json:"side"`
	Round    int  `json:"round"`
	Position int  `json:"position"`

	Teams [2]*uuid.UUID `json:"teams"`
	// Void marks a slot that will never receive a team because its feeder
	// is a bye.
	Void    [2]bool    `json:"void"`
	MatchID *uuid.UUID `json:"match_id,omitempty"`

	Parents    [2]int `json:"parents"`
	WinnerTo   int    `json:"winner_to"`
	WinnerSlot int    `json:"winner_slot"`
	LoserTo    int    `json:"loser_to"`
	LoserSlot  int    `json:"loser_slot"`

	IsBye   bool       `json:"is_bye"`
	ByeTeam *uuid.UUID `json:"bye_team,omitempty"`
}

func NewNode(side Side, round, position int) Node {
	return Node{
		Side:     side,
		Round:    round,
		Position: position,
		Parents:  [2]int{NoNode, NoNode},
		WinnerTo: NoNode,
		LoserTo:  NoNode,
	}
}

// Resolved reports whether every non-void slot holds a team.
func (n *Node) Resolved() bool {
	for i := 0; i < 2; i++ {
		if !n.Void[i] && n.Teams[i] == nil {
			return false
		}
	}
	return true
}

func (n *Node) IsDead() bool {
	return n.Void[0] && n.Void[1]
}

type Bracket struct {
	ID            uuid.UUID     `db:"id" json:"id"`
	TournamentID  uuid.UUID     `db:"tournament_id" json:"tournament_id"`
	Format        Format        `db:"format" json:"format"`
	Size          int           `db:"size" json:"size"`
	Rounds        int           `db:"rounds" json:"rounds"`
	LosersRounds  int           `db:"losers_rounds" json:"losers_rounds"`
	CurrentRound  int           `db:"current_round" json:"current_round"`
	SeedingMethod SeedingMethod `db:"seeding_method" json:"seeding_method"`
	Finalized     bool          `db:"finalized" json:"finalized"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`

	Nodes []Node `db:"-" json:"nodes"`
}

func (b *Bracket) AddNode(n Node) int {
	n.Index = len(b.Nodes)
	b.Nodes = append(b.Nodes, n)
	return n.Index
}

func (b *Bracket) Node(i int) (*Node, error) {
	if i < 0 || i >= len(b.Nodes) {
		return nil, Integrityf("node index %d outside bracket of %d nodes", i, len(b.Nodes))
	}
	return &b.Nodes[i], nil
}

func (b *Bracket) RoundNodes(side Side, round int) []*Node {
	var out []*Node
	for i := range b.Nodes {
		if b.Nodes[i].Side == side && b.Nodes[i].Round == round {
			out = append(out, &b.Nodes[i])
		}
	}
	return out
}

func (b *Bracket) NodeForMatch(matchID uuid.UUID) (*Node, bool) {
	for i := range b.Nodes {
		if b.Nodes[i].MatchID != nil && *b.Nodes[i].MatchID == matchID {
			return &b.Nodes[i], true
		}
	}
	return nil, false
}

// NextPow2 returns the smallest power of two >= n, with NextPow2(0) == 1.
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Log2 is exact for powers of two.
func Log2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n)) - 1
}
