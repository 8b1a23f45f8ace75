package bracket

import (
	"sort"

	"github.com/google/uuid"
)

type NodeView struct {
	Position   int        `json:"position"`
	Team1      string     `json:"team1,omitempty"`
	Team2      string     `json:"team2,omitempty"`
	IsBye      bool       `json:"is_bye"`
	ByeTeam    string     `json:"bye_team,omitempty"`
	MatchID    *uuid.UUID `json:"match_id,omitempty"`
	WinnerName string     `json:"winner,omitempty"`
}

type RoundView struct {
	Side  Side       `json:"side"`
	Round int        `json:"round"`
	Nodes []NodeView `json:"nodes"`
}

// View is the rendering payload handed to bracket visualizations.
type View struct {
	TournamentID uuid.UUID   `json:"tournament_id"`
	Format       Format      `json:"format"`
	Size         int         `json:"size"`
	CurrentRound int         `json:"current_round"`
	Rounds       []RoundView `json:"rounds"`
}

var sideOrder = map[Side]int{WinnersSide: 0, GroupSide: 0, LosersSide: 1, FinalsSide: 2}

func PrepareView(st *State) View {
	v := View{}
	if st.Tournament != nil {
		v.TournamentID = st.Tournament.ID
		v.Format = st.Tournament.Format
	}
	if st.Bracket == nil {
		return v
	}
	v.Size = st.Bracket.Size
	v.CurrentRound = st.Bracket.CurrentRound

	name := func(id *uuid.UUID) string {
		if id == nil {
			return ""
		}
		return st.TeamName(*id)
	}

	type key struct {
		side  Side
		round int
	}
	rounds := make(map[key][]NodeView)
	var keys []key
	for _, n := range st.Bracket.Nodes {
		k := key{n.Side, n.Round}
		if _, exists := rounds[k]; !exists {
			keys = append(keys, k)
		}
		nv := NodeView{
			Position: n.Position,
			Team1:    name(n.Teams[0]),
			Team2:    name(n.Teams[1]),
			IsBye:    n.IsBye,
			ByeTeam:  name(n.ByeTeam),
			MatchID:  n.MatchID,
		}
		if n.MatchID != nil {
			if m, ok := st.Match(*n.MatchID); ok {
				nv.WinnerName = name(m.Winner)
			}
		}
		rounds[k] = append(rounds[k], nv)
	}

	sort.Slice(keys, func(i, j int) bool {
		if sideOrder[keys[i].side] != sideOrder[keys[j].side] {
			return sideOrder[keys[i].side] < sideOrder[keys[j].side]
		}
		return keys[i].round < keys[j].round
	})
	for _, k := range keys {
		nodes := rounds[k]
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].Position < nodes[j].Position
		})
		v.Rounds = append(v.Rounds, RoundView{Side: k.side, Round: k.round, Nodes: nodes})
	}
	return v
}
