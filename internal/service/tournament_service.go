package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/format"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/progression"
	"github.com/padelyzer/tournament-engine/internal/schedule"
	"github.com/padelyzer/tournament-engine/internal/seeding"
)

type TournamentService struct {
	*core
}

func NewTournamentService(d Deps) *TournamentService {
	return &TournamentService{core: newCore(d)}
}

// Facility is the part of the facility subsystem one tournament plays on.
type Facility struct {
	Courts      []*bracket.Court             `json:"courts"`
	Constraints []bracket.ScheduleConstraint `json:"constraints"`
}

func (c *core) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *TournamentService) CreateTournament(ctx context.Context, t bracket.Tournament) (*bracket.Tournament, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.MaxTeams == 0 {
		t.MaxTeams = s.maxTeams
	}
	if t.SeedingMethod == "" {
		t.SeedingMethod = bracket.SeedByRating
	}
	t.Status = bracket.TournamentDraft
	t.TotalRounds = 0
	t.CreatedAt = s.now().UTC()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if s.maxTeams > 0 && t.MaxTeams > s.maxTeams {
		return nil, bracket.Validationf("max teams %d exceeds the limit of %d", t.MaxTeams, s.maxTeams)
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.store.CreateTournament(ctx, tx, &t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tournament created", "tournament_id", t.ID, "format", t.Format, "max_teams", t.MaxTeams)
	return &t, nil
}

func (s *TournamentService) GetTournament(ctx context.Context, id uuid.UUID) (*bracket.Tournament, error) {
	return s.store.GetTournament(ctx, s.db, id)
}

func (s *TournamentService) ListTournaments(ctx context.Context, status ...bracket.TournamentStatus) ([]*bracket.Tournament, error) {
	return s.store.ListTournaments(ctx, status...)
}

// Transition moves the tournament along its lifecycle. Starting goes
// through Start instead, since it builds the bracket.
func (s *TournamentService) Transition(ctx context.Context, id uuid.UUID, to bracket.TournamentStatus) (*bracket.Tournament, error) {
	if to == bracket.TournamentInProgress {
		return nil, bracket.Validationf("use start to move tournament %s in progress", id)
	}
	st, err := s.mutate(ctx, id, func(st *bracket.State) (*bracket.State, error) {
		next := st.Clone()
		if err := next.Tournament.Transition(to); err != nil {
			return nil, err
		}
		if to == bracket.TournamentCancelled {
			for _, sc := range next.ActiveSchedules() {
				sc.Retire(bracket.ScheduleCancelled, "tournament cancelled")
			}
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tournament status changed", "tournament_id", id, "status", to)
	return st.Tournament, nil
}

// Register stores registration snapshots. Teams may be added or updated
// until the tournament starts.
func (s *TournamentService) Register(ctx context.Context, id uuid.UUID, teams []*bracket.Team) ([]*bracket.Team, error) {
	st, err := s.mutate(ctx, id, func(st *bracket.State) (*bracket.State, error) {
		if err := registrationOpen(st.Tournament); err != nil {
			return nil, err
		}
		next := st.Clone()
		for _, in := range teams {
			if in.Name == "" {
				return nil, bracket.Validationf("team name is required")
			}
			t := *in
			t.TournamentID = id
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			if t.Status == "" {
				t.Status = bracket.RegistrationPending
			}
			if t.RegisteredAt.IsZero() {
				t.RegisteredAt = s.now().UTC()
			}
			if existing, ok := next.Team(t.ID); ok {
				*existing = t
				continue
			}
			next.Teams = append(next.Teams, &t)
		}
		if limit := next.Tournament.MaxTeams; limit > 0 && len(next.ConfirmedTeams()) > limit {
			return nil, bracket.Validationf("%d confirmed teams exceed the field of %d", len(next.ConfirmedTeams()), limit)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return st.Teams, nil
}

// SetFacility upserts the courts and constraints the tournament schedules
// against.
func (s *TournamentService) SetFacility(ctx context.Context, id uuid.UUID, f Facility) error {
	for _, c := range f.Courts {
		if c.Name == "" {
			return bracket.Validationf("court name is required")
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	for i := range f.Constraints {
		f.Constraints[i].TournamentID = id
		if f.Constraints[i].ID == uuid.Nil {
			f.Constraints[i].ID = uuid.New()
		}
	}
	if _, err := constraint.NewEngine(f.Constraints, constraint.WithLogger(s.logger)); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		t, err := s.store.GetTournament(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := registrationOpen(t); err != nil {
			return err
		}
		if err := s.store.SaveCourts(ctx, tx, id, f.Courts); err != nil {
			return err
		}
		return s.store.SaveConstraints(ctx, tx, f.Constraints)
	})
}

func registrationOpen(t *bracket.Tournament) error {
	switch t.Status {
	case bracket.TournamentDraft, bracket.TournamentPublished, bracket.TournamentRegistrationOpen, bracket.TournamentRegistrationClosed:
		return nil
	}
	return bracket.Validationf("tournament %s is %s, registration is over", t.ID, t.Status)
}

type StartOptions struct {
	// Manual is the full team order for manual seeding.
	Manual []uuid.UUID `json:"manual,omitempty"`
	// Legs is 1 or 2 for round robin.
	Legs int `json:"legs,omitempty"`
}

type StartResult struct {
	Tournament *bracket.Tournament `json:"tournament"`
	View       bracket.View        `json:"view"`
	Schedule   *schedule.Result    `json:"schedule"`
}

// Start seeds the confirmed teams, builds the bracket and schedules every
// playable match.
func (s *TournamentService) Start(ctx context.Context, id uuid.UUID, opts StartOptions) (*StartResult, error) {
	var res *schedule.Result
	st, err := s.mutate(ctx, id, func(st *bracket.State) (*bracket.State, error) {
		if len(st.Courts) == 0 {
			return nil, bracket.Validationf("tournament %s has no courts", id)
		}
		eng := progression.New(
			progression.WithLogger(s.logger),
			progression.WithFormatOptions(format.Options{Legs: opts.Legs}),
		)
		seedOpts := seeding.Options{Manual: opts.Manual}
		if st.Tournament.SeedingMethod == bracket.SeedByGeographic {
			cl, err := s.clusterTeams(ctx, st)
			if err != nil {
				return nil, err
			}
			seedOpts.Clusters = cl.Membership()
		}
		out, err := eng.StartTournament(st, seedOpts)
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

	view := bracket.PrepareView(st)
	s.publish(notify.BracketUpdated, id, view)
	s.publish(notify.ScheduleUpdated, id, res)
	if len(res.Unscheduled) > 0 {
		s.publish(notify.ManualActionNeeded, id, res.Unscheduled)
	}
	return &StartResult{Tournament: st.Tournament, View: view, Schedule: res}, nil
}

func (s *TournamentService) State(ctx context.Context, id uuid.UUID) (*bracket.State, error) {
	return s.load(ctx, id)
}

func (s *TournamentService) View(ctx context.Context, id uuid.UUID) (bracket.View, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return bracket.View{}, err
	}
	return bracket.PrepareView(st), nil
}

func (s *TournamentService) Standings(ctx context.Context, id uuid.UUID) ([]bracket.Standing, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return progression.New(progression.WithLogger(s.logger)).Standings(st)
}

// ScheduleReport scores the active schedule against the tournament's
// constraints.
func (s *TournamentService) ScheduleReport(ctx context.Context, id uuid.UUID) (constraint.Report, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return constraint.Report{}, err
	}
	ce, err := constraint.NewEngine(st.Constraints, constraint.WithLogger(s.logger))
	if err != nil {
		return constraint.Report{}, err
	}
	env := constraint.NewEnv(st)
	env.Weather = s.weather

	var placements []constraint.Placement
	for _, sc := range st.ActiveSchedules() {
		m, ok := st.Match(sc.MatchID)
		if !ok {
			return constraint.Report{}, bracket.Integrityf("schedule %s points at unknown match %s", sc.ID, sc.MatchID)
		}
		court, ok := st.Court(sc.CourtID)
		if !ok {
			return constraint.Report{}, bracket.Integrityf("schedule %s points at unknown court %s", sc.ID, sc.CourtID)
		}
		placements = append(placements, constraint.Placement{Match: m, Court: court, Start: sc.StartsAt, Duration: sc.Duration})
	}
	return ce.EvaluateSchedule(placements, env), nil
}

// Upcoming lists the active schedules starting within the horizon.
func (s *TournamentService) Upcoming(ctx context.Context, id uuid.UUID, horizon time.Duration) ([]*bracket.MatchSchedule, error) {
	st, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []*bracket.MatchSchedule
	for _, sc := range st.ActiveSchedules() {
		if !sc.StartsAt.Before(now) && sc.StartsAt.Before(now.Add(horizon)) {
			out = append(out, sc)
		}
	}
	return out, nil
}
