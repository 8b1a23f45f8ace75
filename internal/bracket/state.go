package bracket

import (
	"slices"
	"sort"

	"github.com/google/uuid"
)

// State is everything one tournament-processing invocation reads and
// writes. Callers load it, mutate a Clone, and swap it in once the
// mutation succeeded.
type State struct {
	Tournament  *Tournament
	Teams       []*Team
	Bracket     *Bracket
	Matches     []*Match
	Schedules   []*MatchSchedule
	Courts      []*Court
	Constraints []ScheduleConstraint
	Awards      []PrizeAward
}

func (s *State) Team(id uuid.UUID) (*Team, bool) {
	for _, t := range s.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

func (s *State) Match(id uuid.UUID) (*Match, bool) {
	for _, m := range s.Matches {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func (s *State) Court(id uuid.UUID) (*Court, bool) {
	for _, c := range s.Courts {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ActiveSchedule returns the schedule currently holding a slot for the match.
func (s *State) ActiveSchedule(matchID uuid.UUID) (*MatchSchedule, bool) {
	for _, sc := range s.Schedules {
		if sc.MatchID == matchID && sc.IsActive() {
			return sc, true
		}
	}
	return nil, false
}

func (s *State) ActiveSchedules() []*MatchSchedule {
	var out []*MatchSchedule
	for _, sc := range s.Schedules {
		if sc.IsActive() {
			out = append(out, sc)
		}
	}
	return out
}

func (s *State) TeamMatches(teamID uuid.UUID) []*Match {
	var out []*Match
	for _, m := range s.Matches {
		if m.HasTeam(teamID) {
			out = append(out, m)
		}
	}
	return out
}

func (s *State) RoundMatches(side Side, round int) []*Match {
	var out []*Match
	for _, m := range s.Matches {
		if m.Side == side && m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

// ConfirmedTeams returns confirmed registrations in registration order.
func (s *State) ConfirmedTeams() []*Team {
	var out []*Team
	for _, t := range s.Teams {
		if t.IsConfirmed() {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (s *State) TeamName(id uuid.UUID) string {
	if t, ok := s.Team(id); ok {
		return t.Name
	}
	return ""
}

// Clone deep-copies the mutable parts of the state. Courts and constraints
// are read-only to the engine and are shared.
func (s *State) Clone() *State {
	c := &State{
		Courts:      s.Courts,
		Constraints: s.Constraints,
		Awards:      slices.Clone(s.Awards),
	}
	if s.Tournament != nil {
		t := *s.Tournament
		t.Prizes = slices.Clone(s.Tournament.Prizes)
		c.Tournament = &t
	}
	for _, t := range s.Teams {
		tc := *t
		tc.Roster = slices.Clone(t.Roster)
		c.Teams = append(c.Teams, &tc)
	}
	if s.Bracket != nil {
		b := *s.Bracket
		b.Nodes = slices.Clone(s.Bracket.Nodes)
		c.Bracket = &b
	}
	for _, m := range s.Matches {
		mc := *m
		mc.Team1Sets = slices.Clone(m.Team1Sets)
		mc.Team2Sets = slices.Clone(m.Team2Sets)
		c.Matches = append(c.Matches, &mc)
	}
	for _, sc := range s.Schedules {
		scc := *sc
		c.Schedules = append(c.Schedules, &scc)
	}
	return c
}
