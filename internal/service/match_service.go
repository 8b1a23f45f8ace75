package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/progression"
	"github.com/padelyzer/tournament-engine/internal/schedule"
)

type MatchService struct {
	*core
	engine *progression.Engine
}

func NewMatchService(d Deps) *MatchService {
	c := newCore(d)
	return &MatchService{core: c, engine: progression.New(progression.WithLogger(c.logger))}
}

// MatchUpdate is what a match operation changed.
type MatchUpdate struct {
	Match      *bracket.Match       `json:"match"`
	NewMatches []*bracket.Match     `json:"new_matches,omitempty"`
	Schedule   *schedule.Result     `json:"schedule,omitempty"`
	Completed  bool                 `json:"completed"`
	Standings  []bracket.Standing   `json:"standings,omitempty"`
	Awards     []bracket.PrizeAward `json:"awards,omitempty"`
	Tournament *bracket.Tournament  `json:"tournament"`
}

func (s *MatchService) GetMatch(ctx context.Context, tournamentID, matchID uuid.UUID) (*bracket.Match, *bracket.MatchSchedule, error) {
	st, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, nil, err
	}
	m, ok := st.Match(matchID)
	if !ok {
		return nil, nil, bracket.NotFoundf("match %s", matchID)
	}
	sc, _ := st.ActiveSchedule(matchID)
	return m, sc, nil
}

func (s *MatchService) StartMatch(ctx context.Context, tournamentID, matchID uuid.UUID) (*MatchUpdate, error) {
	return s.apply(ctx, tournamentID, func(st *bracket.State) (*progression.Outcome, error) {
		return s.engine.StartMatch(st, matchID)
	})
}

func (s *MatchService) RecordResult(ctx context.Context, tournamentID uuid.UUID, res progression.Result) (*MatchUpdate, error) {
	return s.apply(ctx, tournamentID, func(st *bracket.State) (*progression.Outcome, error) {
		return s.engine.RecordResult(st, res)
	})
}

// RecordWalkover awards the match without play. A slot that has not started
// yet is released.
func (s *MatchService) RecordWalkover(ctx context.Context, tournamentID, matchID, winner uuid.UUID) (*MatchUpdate, error) {
	return s.apply(ctx, tournamentID, func(st *bracket.State) (*progression.Outcome, error) {
		out, err := s.engine.RecordWalkover(st, matchID, winner)
		if err != nil {
			return nil, err
		}
		if sc, ok := out.State.ActiveSchedule(matchID); ok && sc.StartsAt.After(s.now()) {
			sc.Retire(bracket.ScheduleCancelled, "walkover")
		}
		return out, nil
	})
}

// Postpone takes the match off the calendar until it is given a makeup slot.
func (s *MatchService) Postpone(ctx context.Context, tournamentID, matchID uuid.UUID) (*MatchUpdate, error) {
	return s.apply(ctx, tournamentID, func(st *bracket.State) (*progression.Outcome, error) {
		out, err := s.engine.Postpone(st, matchID)
		if err != nil {
			return nil, err
		}
		if sc, ok := out.State.ActiveSchedule(matchID); ok {
			sc.Retire(bracket.ScheduleRescheduled, "postponed")
		}
		return out, nil
	})
}

func (s *MatchService) Cancel(ctx context.Context, tournamentID, matchID uuid.UUID) (*MatchUpdate, error) {
	return s.apply(ctx, tournamentID, func(st *bracket.State) (*progression.Outcome, error) {
		out, err := s.engine.Cancel(st, matchID)
		if err != nil {
			return nil, err
		}
		if sc, ok := out.State.ActiveSchedule(matchID); ok {
			sc.Retire(bracket.ScheduleCancelled, "match cancelled")
		}
		return out, nil
	})
}

// apply runs a progression operation and schedules whatever matches it made
// playable, all in the same transaction.
func (s *MatchService) apply(ctx context.Context, tournamentID uuid.UUID, op func(st *bracket.State) (*progression.Outcome, error)) (*MatchUpdate, error) {
	var out *progression.Outcome
	var res *schedule.Result
	st, err := s.mutate(ctx, tournamentID, func(st *bracket.State) (*bracket.State, error) {
		var err error
		out, err = op(st)
		if err != nil {
			return nil, err
		}
		res, err = s.place(ctx, out.State, out.NewMatches)
		if err != nil {
			return nil, err
		}
		return out.State, nil
	})
	if err != nil {
		return nil, err
	}

	upd := &MatchUpdate{
		Match:      out.Match,
		NewMatches: out.NewMatches,
		Completed:  out.Completed,
		Standings:  out.Standings,
		Awards:     out.Awards,
		Tournament: st.Tournament,
	}
	s.publish(notify.MatchUpdated, tournamentID, out.Match)
	if len(out.NewMatches) > 0 {
		upd.Schedule = res
		s.publish(notify.BracketUpdated, tournamentID, bracket.PrepareView(st))
		s.publish(notify.ScheduleUpdated, tournamentID, res)
		if len(res.Unscheduled) > 0 {
			s.publish(notify.ManualActionNeeded, tournamentID, res.Unscheduled)
		}
	}
	if out.Completed {
		s.publish(notify.TournamentCompleted, tournamentID, map[string]any{"standings": out.Standings, "awards": out.Awards})
	}
	return upd, nil
}

// ConfirmUpcoming confirms the tentative slots of pending matches starting
// within the horizon and returns how many changed.
func (s *MatchService) ConfirmUpcoming(ctx context.Context, tournamentID uuid.UUID, horizon time.Duration) (int, error) {
	if horizon <= 0 {
		return 0, bracket.Validationf("confirmation horizon must be positive")
	}
	var confirmed []*bracket.MatchSchedule
	_, err := s.mutate(ctx, tournamentID, func(st *bracket.State) (*bracket.State, error) {
		confirmed = nil
		next := st.Clone()
		now := s.now()
		until := now.Add(horizon)
		for _, sc := range next.ActiveSchedules() {
			if sc.Status != bracket.ScheduleTentative || sc.StartsAt.Before(now) || !sc.StartsAt.Before(until) {
				continue
			}
			if m, ok := next.Match(sc.MatchID); !ok || !m.IsPending() {
				continue
			}
			sc.Status = bracket.ScheduleConfirmed
			confirmed = append(confirmed, sc)
		}
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	if len(confirmed) > 0 {
		s.logger.Info("schedules confirmed", "tournament_id", tournamentID, "count", len(confirmed))
		s.publish(notify.ScheduleUpdated, tournamentID, confirmed)
	}
	return len(confirmed), nil
}

// Alternatives ranks the legal slots for a match between from and to
// without booking any of them.
func (s *MatchService) Alternatives(ctx context.Context, tournamentID, matchID uuid.UUID, from, to time.Time) ([]schedule.Choice, error) {
	st, err := s.load(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	m, ok := st.Match(matchID)
	if !ok {
		return nil, bracket.NotFoundf("match %s", matchID)
	}
	if !to.After(from) {
		return nil, bracket.Validationf("alternatives window ends before it starts")
	}
	sched, err := s.scheduler(ctx, st)
	if err != nil {
		return nil, err
	}
	env := constraint.NewEnv(st)
	env.Weather = s.weather
	return sched.Alternatives(ctx, m, from, to, env)
}
