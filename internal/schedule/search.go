package schedule

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/geo"
)

// slot is a placement made during one Schedule call and the window it may
// move within.
type slot struct {
	p        constraint.Placement
	from, to time.Time
}

// undo restores the placement a move replaced.
type undo struct {
	idx int
	old constraint.Placement
}

const (
	utilizationWeight = 2
	travelWeight      = 0.5
)

// Aggregate is the schedule-wide score local search never lets drop: match
// quality minus constraint penalties, court imbalance and same-day travel
// between venues.
func (s *Scheduler) Aggregate(placements []constraint.Placement, env *constraint.Env) float64 {
	var total float64
	for _, p := range placements {
		club, ok := s.preferredClub(p.Match, env)
		total += s.quality(p, env, club, ok)
		total -= constraint.TotalPenalty(s.constraints.Evaluate(p, env))
	}
	return total - utilizationWeight*s.imbalance(placements) - travelWeight*s.travelKm(placements)
}

// imbalance is the standard deviation of matches per court.
func (s *Scheduler) imbalance(placements []constraint.Placement) float64 {
	if len(s.courts) < 2 || len(placements) == 0 {
		return 0
	}
	counts := make(map[uuid.UUID]int, len(s.courts))
	for _, p := range placements {
		counts[p.Court.EntityID()]++
	}
	mean := float64(len(placements)) / float64(len(s.courts))
	var variance float64
	for _, c := range s.courts {
		d := float64(counts[c.ID]) - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(s.courts)))
}

// travelKm sums the distance teams cover between consecutive matches on the
// same day at different clubs.
func (s *Scheduler) travelKm(placements []constraint.Placement) float64 {
	byTeam := make(map[uuid.UUID][]constraint.Placement)
	for _, p := range placements {
		byTeam[p.Match.Team1] = append(byTeam[p.Match.Team1], p)
		byTeam[p.Match.Team2] = append(byTeam[p.Match.Team2], p)
	}
	var km float64
	for _, ps := range byTeam {
		sort.Slice(ps, func(i, j int) bool { return ps[i].Start.Before(ps[j].Start) })
		for i := 1; i < len(ps); i++ {
			a, b := ps[i-1], ps[i]
			if a.Start.Format(time.DateOnly) != b.Start.Format(time.DateOnly) {
				continue
			}
			ca, okA := s.courtByID[a.Court.EntityID()]
			cb, okB := s.courtByID[b.Court.EntityID()]
			if !okA || !okB || ca.ClubID == cb.ClubID {
				continue
			}
			la, _ := ca.Location()
			lb, _ := cb.Location()
			km += geo.DistanceKm(la, lb)
		}
	}
	return km
}

func placementsOf(slots []*slot) []constraint.Placement {
	out := make([]constraint.Placement, len(slots))
	for i, sl := range slots {
		out[i] = sl.p
	}
	return out
}

func samePlace(a, b constraint.Placement) bool {
	return a.Court.EntityID() == b.Court.EntityID() && a.Start.Equal(b.Start)
}

// improve alternates relocating a placement to its best alternative and
// swapping it with another placement from the same window. A move is kept
// when the aggregate score does not drop. It stops after the configured
// number of iterations or once two passes over the placements changed
// nothing.
func (s *Scheduler) improve(ctx context.Context, slots []*slot, env *constraint.Env) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	current := s.Aggregate(placementsOf(slots), env)
	improvements, idle := 0, 0
	for it := 0; it < s.cfg.LocalSearchIterations && idle < 2*len(slots); it++ {
		if err := ctx.Err(); err != nil {
			return improvements, err
		}
		i := (it / 2) % len(slots)
		var undos []undo
		if it%2 == 0 {
			var err error
			if undos, err = s.relocate(ctx, slots, i, env); err != nil {
				return improvements, err
			}
		} else {
			undos = s.swap(slots, i, it/2, env)
		}
		if len(undos) == 0 {
			idle++
			continue
		}
		next := s.Aggregate(placementsOf(slots), env)
		switch {
		case next < current:
			for k := len(undos) - 1; k >= 0; k-- {
				s.put(slots, undos[k].idx, undos[k].old, env)
			}
			idle++
		case next > current:
			improvements++
			idle = 0
			current = next
		default:
			idle++
		}
	}
	return improvements, nil
}

func (s *Scheduler) put(slots []*slot, i int, p constraint.Placement, env *constraint.Env) {
	slots[i].p = p
	env.Book(p.Match, p.Court.EntityID(), p.Start, p.Duration)
}

// relocate moves slot i to the best legal alternative in its window.
func (s *Scheduler) relocate(ctx context.Context, slots []*slot, i int, env *constraint.Env) ([]undo, error) {
	sl := slots[i]
	old := sl.p
	env.Release(old.Match.ID)
	c, ok, err := s.Best(ctx, old.Match, sl.from, sl.to, env, nil)
	if err != nil || !ok || samePlace(c.Placement, old) {
		s.put(slots, i, old, env)
		return nil, err
	}
	s.put(slots, i, c.Placement, env)
	return []undo{{idx: i, old: old}}, nil
}

// swap exchanges court and start time between slot i and the k-th other
// slot sharing its window, provided neither lands on a critical violation.
func (s *Scheduler) swap(slots []*slot, i, k int, env *constraint.Env) []undo {
	var partners []int
	for j, sl := range slots {
		if j != i && sl.from.Equal(slots[i].from) && sl.to.Equal(slots[i].to) && !samePlace(sl.p, slots[i].p) {
			partners = append(partners, j)
		}
	}
	if len(partners) == 0 {
		return nil
	}
	j := partners[k%len(partners)]
	a, b := slots[i].p, slots[j].p
	a2 := constraint.Placement{Match: a.Match, Court: b.Court, Start: b.Start, Duration: a.Duration}
	b2 := constraint.Placement{Match: b.Match, Court: a.Court, Start: a.Start, Duration: b.Duration}

	env.Release(a.Match.ID)
	env.Release(b.Match.ID)
	s.put(slots, i, a2, env)
	legal := !constraint.HasCritical(s.constraints.Evaluate(b2, env))
	s.put(slots, j, b2, env)
	legal = legal && !constraint.HasCritical(s.constraints.Evaluate(a2, env))
	if !legal {
		s.put(slots, i, a, env)
		s.put(slots, j, b, env)
		return nil
	}
	return []undo{{idx: i, old: a}, {idx: j, old: b}}
}
