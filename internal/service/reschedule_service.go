package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/reschedule"
)

type RescheduleService struct {
	*core
}

func NewRescheduleService(d Deps) *RescheduleService {
	return &RescheduleService{core: newCore(d)}
}

type rescheduleOp func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error)

func (s *RescheduleService) run(ctx context.Context, tournamentID uuid.UUID, op rescheduleOp) (*reschedule.Outcome, error) {
	var out *reschedule.Outcome
	_, err := s.mutate(ctx, tournamentID, func(st *bracket.State) (*bracket.State, error) {
		if st.Tournament.Status != bracket.TournamentInProgress {
			return nil, bracket.Validationf("tournament %s is %s, not in progress", tournamentID, st.Tournament.Status)
		}
		r, err := s.rescheduler(ctx, st)
		if err != nil {
			return nil, err
		}
		out, err = op(ctx, r, st)
		if err != nil {
			return nil, err
		}
		return out.State, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(notify.ScheduleUpdated, tournamentID, out)
	manual := append(append([]reschedule.Manual(nil), out.Failed...), out.NeedsManual...)
	if len(manual) > 0 {
		s.logger.Warn("reschedule needs manual action", "tournament_id", tournamentID, "matches", len(manual))
		s.publish(notify.ManualActionNeeded, tournamentID, manual)
	}
	return out, nil
}

func (s *RescheduleService) RescheduleMatch(ctx context.Context, tournamentID, matchID uuid.UUID, reason reschedule.Reason, preferred *time.Time) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		return r.RescheduleMatch(ctx, st, matchID, reason, preferred)
	})
}

func (s *RescheduleService) BulkReschedule(ctx context.Context, tournamentID uuid.UUID, matchIDs []uuid.UUID, reason reschedule.Reason) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		return r.BulkReschedule(ctx, st, matchIDs, reason)
	})
}

func (s *RescheduleService) PostponeDay(ctx context.Context, tournamentID uuid.UUID, day time.Time, outdoorOnly bool, reason reschedule.Reason) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		return r.PostponeDay(ctx, st, day, outdoorOnly, reason)
	})
}

// CompressSchedule moves the tournament end earlier and repacks the
// remaining matches before it.
func (s *RescheduleService) CompressSchedule(ctx context.Context, tournamentID uuid.UUID, end time.Time) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		return r.CompressSchedule(ctx, st, end)
	})
}

func (s *RescheduleService) ExpandSchedule(ctx context.Context, tournamentID uuid.UUID, end time.Time) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		return r.ExpandSchedule(ctx, st, end)
	})
}

// HandleTeamWithdrawal removes the team, settles its open matches and books
// whatever matches the bracket opens as a result.
func (s *RescheduleService) HandleTeamWithdrawal(ctx context.Context, tournamentID, teamID uuid.UUID, reason reschedule.Reason) (*reschedule.Outcome, error) {
	out, err := s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		out, err := r.HandleTeamWithdrawal(ctx, st, teamID, reason)
		if err != nil {
			return nil, err
		}
		res, err := s.place(ctx, out.State, out.NewMatches)
		if err != nil {
			return nil, err
		}
		for _, u := range res.Unscheduled {
			out.Failed = append(out.Failed, reschedule.Manual{MatchID: u.MatchID, Reason: u.Reason})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(notify.BracketUpdated, tournamentID, bracket.PrepareView(out.State))
	if out.Completed {
		s.publish(notify.TournamentCompleted, tournamentID, map[string]any{"standings": out.Standings, "awards": out.Awards})
	}
	return out, nil
}

// AddMakeupMatches books postponed matches into free gaps. With no IDs
// every pending match without a slot is tried.
func (s *RescheduleService) AddMakeupMatches(ctx context.Context, tournamentID uuid.UUID, matchIDs []uuid.UUID) (*reschedule.Outcome, error) {
	return s.run(ctx, tournamentID, func(ctx context.Context, r *reschedule.Rescheduler, st *bracket.State) (*reschedule.Outcome, error) {
		ids := matchIDs
		if len(ids) == 0 {
			for _, m := range st.Matches {
				if _, ok := st.ActiveSchedule(m.ID); !ok && m.IsPending() {
					ids = append(ids, m.ID)
				}
			}
		}
		if len(ids) == 0 {
			return &reschedule.Outcome{State: st}, nil
		}
		return r.AddMakeupMatches(ctx, st, ids)
	})
}
