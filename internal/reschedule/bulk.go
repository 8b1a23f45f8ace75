package reschedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/schedule"
)

// BulkReschedule postpones every listed match and then re-places them,
// least flexible first so tightly constrained fixtures are not starved. An
// unknown, settled or repeated match rejects the whole batch. Matches left
// without a legal slot stay postponed and are reported in Failed.
func (r *Rescheduler) BulkReschedule(ctx context.Context, st *bracket.State, matchIDs []uuid.UUID, reason Reason) (*Outcome, error) {
	return r.bulk(ctx, st, matchIDs, reason, nil)
}

// PostponeDay moves every match booked on the given day, or only those on
// outdoor courts, to other days.
func (r *Rescheduler) PostponeDay(ctx context.Context, st *bracket.State, day time.Time, outdoorOnly bool, reason Reason) (*Outcome, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	blocked := bracket.TimeWindow{Start: start, End: start.AddDate(0, 0, 1)}

	var ids []uuid.UUID
	for _, sc := range st.ActiveSchedules() {
		if !blocked.Contains(sc.StartsAt) {
			continue
		}
		if c, ok := st.Court(sc.CourtID); outdoorOnly && ok && !c.Outdoor {
			continue
		}
		if m, ok := st.Match(sc.MatchID); ok && m.IsPending() {
			ids = append(ids, sc.MatchID)
		}
	}
	if len(ids) == 0 {
		return &Outcome{State: st.Clone()}, nil
	}
	return r.bulk(ctx, st, ids, reason, []bracket.TimeWindow{blocked})
}

func (r *Rescheduler) bulk(ctx context.Context, st *bracket.State, matchIDs []uuid.UUID, reason Reason, blocked []bracket.TimeWindow) (*Outcome, error) {
	if err := reason.Validate(); err != nil {
		return nil, err
	}
	if len(matchIDs) == 0 {
		return nil, bracket.Validationf("no matches to reschedule")
	}
	w, err := r.window(st, reason)
	if err != nil {
		return nil, err
	}

	next := st.Clone()
	c := r.newCascade(next, w)
	c.blocked = blocked
	batch := make([]*bracket.Match, 0, len(matchIDs))
	seen := make(map[uuid.UUID]bool, len(matchIDs))
	for _, id := range matchIDs {
		if seen[id] {
			return nil, bracket.Validationf("match %s listed twice", id)
		}
		seen[id] = true
		m, err := pendingMatch(next, id)
		if err != nil {
			return nil, err
		}
		batch = append(batch, m)
	}

	for _, m := range batch {
		c.remember(m)
		c.touched[m.ID] = true
		if sc, ok := next.ActiveSchedule(m.ID); ok {
			sc.Retire(bracket.ScheduleRescheduled, reason.String())
			c.env.Release(m.ID)
		}
		if m.Status == bracket.MatchScheduled {
			if err := m.Transition(bracket.MatchPostponed); err != nil {
				return nil, err
			}
		}
	}

	flex := make(map[uuid.UUID]int, len(batch))
	for _, m := range batch {
		alts, err := r.sched.Alternatives(ctx, m, w.Start, w.End, c.env)
		if err != nil {
			return nil, err
		}
		for _, alt := range alts {
			if c.acceptable(m, alt.Placement, alt.Violations, reason) {
				flex[m.ID]++
			}
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if flex[a.ID] != flex[b.ID] {
			return flex[a.ID] < flex[b.ID]
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Number < b.Number
	})

	for _, m := range batch {
		ok, err := c.bestFree(ctx, m, reason, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.out.Failed = append(c.out.Failed, Manual{MatchID: m.ID, Reason: "no legal slot before " + w.End.Format(time.RFC3339)})
			r.logger.Warn("bulk reschedule left match postponed", "match_id", m.ID, "reason", reason.String())
		}
	}
	if err := verify(next); err != nil {
		return nil, err
	}
	r.logger.Info("bulk reschedule finished", "requested", len(batch), "moved", len(c.out.Moved), "failed", len(c.out.Failed))
	return c.out, nil
}

// CompressSchedule pulls the tournament end in to end and reassigns every
// pending match on a denser grid with longer days. Confirmed slots stay
// where they are. Either every match fits or nothing changes.
func (r *Rescheduler) CompressSchedule(ctx context.Context, st *bracket.State, end time.Time) (*Outcome, error) {
	if st.Tournament == nil {
		return nil, bracket.Validationf("state has no tournament")
	}
	if !end.Before(st.Tournament.EndDate) {
		return nil, bracket.Validationf("compressed end %s must be before the current end %s",
			end.Format(time.RFC3339), st.Tournament.EndDate.Format(time.RFC3339))
	}
	cfg := r.sched.Config()
	cfg.SlotStep = max(cfg.SlotStep/2, 15*time.Minute)
	cfg.DayStartHour = max(cfg.DayStartHour-1, 7)
	cfg.DayEndHour = min(cfg.DayEndHour+1, 22)
	cfg.RoundSpacing = max(cfg.RoundSpacing/2, 24*time.Hour)
	dense, err := r.sched.Reconfigure(cfg)
	if err != nil {
		return nil, err
	}
	return r.reassign(ctx, st, end, dense, Reason{Kind: ReasonCompression, Priority: bracket.PriorityMedium})
}

// ExpandSchedule pushes the tournament end out to end and re-optimises
// every pending match over the longer window.
func (r *Rescheduler) ExpandSchedule(ctx context.Context, st *bracket.State, end time.Time) (*Outcome, error) {
	if st.Tournament == nil {
		return nil, bracket.Validationf("state has no tournament")
	}
	if !end.After(st.Tournament.EndDate) {
		return nil, bracket.Validationf("expanded end %s must be after the current end %s",
			end.Format(time.RFC3339), st.Tournament.EndDate.Format(time.RFC3339))
	}
	return r.reassign(ctx, st, end, r.sched, Reason{Kind: ReasonExpansion, Priority: bracket.PriorityMedium})
}

func (r *Rescheduler) reassign(ctx context.Context, st *bracket.State, end time.Time, sched *schedule.Scheduler, reason Reason) (*Outcome, error) {
	next := st.Clone()
	next.Tournament.EndDate = end
	w := next.Tournament.Window(r.now())
	if !w.End.After(w.Start) {
		return nil, bracket.Validationf("no time left before %s", end.Format(time.RFC3339))
	}

	out := &Outcome{State: next}
	former := make(map[uuid.UUID]Slot)
	var batch []*bracket.Match
	for _, m := range next.Matches {
		if !m.IsPending() {
			continue
		}
		if sc, ok := next.ActiveSchedule(m.ID); ok {
			if sc.Status == bracket.ScheduleConfirmed {
				continue
			}
			former[m.ID] = Slot{CourtID: sc.CourtID, StartsAt: sc.StartsAt}
			sc.Retire(bracket.ScheduleRescheduled, reason.String())
		}
		batch = append(batch, m)
	}

	res, err := sched.Schedule(ctx, batch, w, r.env(next))
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to reassign within %s: %w", end.Format(time.DateOnly), err)
	}
	for _, sc := range res.Schedules {
		m, _ := next.Match(sc.MatchID)
		if m.Status == bracket.MatchPostponed {
			if err := m.Transition(bracket.MatchScheduled); err != nil {
				return nil, err
			}
		}
		next.Schedules = append(next.Schedules, sc)
		mv := Move{MatchID: sc.MatchID, To: Slot{CourtID: sc.CourtID, StartsAt: sc.StartsAt}}
		if f, ok := former[sc.MatchID]; ok {
			mv.From = &f
		}
		out.Moved = append(out.Moved, mv)
	}
	if err := verify(next); err != nil {
		return nil, err
	}
	r.logger.Info("schedule reassigned", "reason", reason.String(), "end", end, "matches", len(out.Moved), "score", res.Score)
	return out, nil
}

// HandleTeamWithdrawal takes the team out of the tournament and releases
// the slots of every match it forfeits. Knockout opponents get walkovers,
// group matches are cancelled, and matches the bracket opens as a result
// come back unbooked in NewMatches.
func (r *Rescheduler) HandleTeamWithdrawal(ctx context.Context, st *bracket.State, teamID uuid.UUID, reason Reason) (*Outcome, error) {
	if err := reason.Validate(); err != nil {
		return nil, err
	}
	res, err := r.progress.Withdraw(st, teamID)
	if err != nil {
		return nil, err
	}
	next := res.State
	out := &Outcome{
		State:      next,
		NewMatches: res.NewMatches,
		Completed:  res.Completed,
		Standings:  res.Standings,
		Awards:     res.Awards,
	}
	for _, m := range res.Forfeited {
		if sc, ok := next.ActiveSchedule(m.ID); ok {
			sc.Retire(bracket.ScheduleCancelled, reason.String())
		}
		out.Forfeited = append(out.Forfeited, m.ID)
	}
	if err := verify(next); err != nil {
		return nil, err
	}
	r.logger.Info("withdrawal slots released", "team_id", teamID, "forfeited", len(out.Forfeited), "new_matches", len(out.NewMatches))
	return out, nil
}

// AddMakeupMatches fits pending matches that hold no slot into free gaps,
// most important first, without moving anything already booked.
func (r *Rescheduler) AddMakeupMatches(ctx context.Context, st *bracket.State, matchIDs []uuid.UUID) (*Outcome, error) {
	reason := Reason{Kind: ReasonMakeup, Priority: bracket.PriorityMedium}
	w, err := r.window(st, reason)
	if err != nil {
		return nil, err
	}
	next := st.Clone()
	c := r.newCascade(next, w)
	var batch []*bracket.Match
	for _, id := range matchIDs {
		m, err := pendingMatch(next, id)
		if err != nil {
			return nil, err
		}
		if _, ok := next.ActiveSchedule(id); ok {
			return nil, bracket.Validationf("match %s already holds a slot", id)
		}
		batch = append(batch, m)
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Priority > batch[j].Priority })

	for _, m := range batch {
		ok, err := c.bestFree(ctx, m, reason, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.out.Failed = append(c.out.Failed, Manual{MatchID: m.ID, Reason: "no free gap before " + w.End.Format(time.RFC3339)})
		}
	}
	if err := verify(next); err != nil {
		return nil, err
	}
	return c.out, nil
}
