// Package service runs engine operations against the database. Each
// mutating call takes the tournament's lock, loads its State inside one
// transaction, applies the operation and writes the result back before
// committing.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/geo"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/reschedule"
	"github.com/padelyzer/tournament-engine/internal/schedule"
	"github.com/padelyzer/tournament-engine/internal/store"
)

// Publisher receives events once the change behind them is committed.
type Publisher interface {
	Publish(e notify.Event)
}

type Deps struct {
	DB        *sqlx.DB
	Store     *store.Store
	Locks     *Locker
	Publisher Publisher
	Logger    *slog.Logger
	Schedule  schedule.Config
	MaxTeams  int
	Weather   constraint.WeatherSource
	Now       func() time.Time
}

type core struct {
	db        *sqlx.DB
	store     *store.Store
	locks     *Locker
	publisher Publisher
	logger    *slog.Logger
	schedCfg  schedule.Config
	maxTeams  int
	weather   constraint.WeatherSource
	geo       *geo.Optimizer
	now       func() time.Time
}

const maxAttempts = 3

func newCore(d Deps) *core {
	c := &core{
		db:        d.DB,
		store:     d.Store,
		locks:     d.Locks,
		publisher: d.Publisher,
		logger:    d.Logger,
		schedCfg:  d.Schedule,
		maxTeams:  d.MaxTeams,
		weather:   d.Weather,
		now:       d.Now,
	}
	if c.store == nil {
		c.store = store.New(d.DB)
	}
	if c.locks == nil {
		c.locks = NewLocker()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.schedCfg == (schedule.Config{}) {
		c.schedCfg = schedule.DefaultConfig()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.geo = geo.New(geo.WithLogger(c.logger))
	return c
}

// mutate runs fn on the tournament's State under its lock and persists the
// State fn returns. A slot taken by a concurrent writer is retried.
func (c *core) mutate(ctx context.Context, tournamentID uuid.UUID, fn func(st *bracket.State) (*bracket.State, error)) (*bracket.State, error) {
	unlock := c.locks.Lock(tournamentID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var next *bracket.State
		next, err = c.mutateOnce(ctx, tournamentID, fn)
		if err == nil {
			return next, nil
		}
		if !bracket.IsRetryable(err) {
			return nil, err
		}
		c.logger.Warn("retrying tournament update", "tournament_id", tournamentID, "attempt", attempt, "error", err)
	}
	return nil, err
}

func (c *core) mutateOnce(ctx context.Context, tournamentID uuid.UUID, fn func(st *bracket.State) (*bracket.State, error)) (*bracket.State, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st, err := c.store.LoadState(ctx, tx, tournamentID)
	if err != nil {
		return nil, err
	}
	next, err := fn(st)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveState(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tournament %s: %w", tournamentID, err)
	}
	return next, nil
}

func (c *core) load(ctx context.Context, tournamentID uuid.UUID) (*bracket.State, error) {
	return c.store.LoadState(ctx, c.db, tournamentID)
}

// scheduler builds a scheduler over the tournament's courts and constraints.
func (c *core) scheduler(ctx context.Context, st *bracket.State) (*schedule.Scheduler, error) {
	ce, err := constraint.NewEngine(st.Constraints, constraint.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	homes, err := c.homeVenues(ctx, st)
	if err != nil {
		return nil, err
	}
	return schedule.New(st.Courts, ce,
		schedule.WithConfig(c.schedCfg),
		schedule.WithLogger(c.logger),
		schedule.WithOptimizer(c.geo),
		schedule.WithHomeVenues(homes),
		schedule.WithClock(c.now),
	)
}

// clusterTeams groups the confirmed teams that have coordinates.
func (c *core) clusterTeams(ctx context.Context, st *bracket.State) (*geo.Clustering, error) {
	var items []bracket.Locatable
	for _, t := range st.ConfirmedTeams() {
		if _, ok := t.Location(); ok {
			items = append(items, t)
		}
	}
	if len(items) == 0 {
		return &geo.Clustering{}, nil
	}
	return c.geo.Cluster(ctx, items)
}

// homeVenues maps each located team to the home club of its cluster. With
// a single venue there is nothing to choose.
func (c *core) homeVenues(ctx context.Context, st *bracket.State) (map[uuid.UUID]uuid.UUID, error) {
	venues := geo.VenuesFromCourts(st.Courts)
	if len(venues) < 2 {
		return nil, nil
	}
	cl, err := c.clusterTeams(ctx, st)
	if err != nil {
		return nil, err
	}
	clubs := make(map[int]uuid.UUID)
	for _, h := range c.geo.AssignHomeVenues(cl, venues) {
		clubs[h.Cluster] = h.ClubID
	}
	homes := make(map[uuid.UUID]uuid.UUID)
	for teamID, cluster := range cl.Membership() {
		if club, ok := clubs[cluster]; ok {
			homes[teamID] = club
		}
	}
	return homes, nil
}

func (c *core) rescheduler(ctx context.Context, st *bracket.State) (*reschedule.Rescheduler, error) {
	sched, err := c.scheduler(ctx, st)
	if err != nil {
		return nil, err
	}
	return reschedule.New(sched,
		reschedule.WithLogger(c.logger),
		reschedule.WithClock(c.now),
		reschedule.WithWeather(c.weather),
	), nil
}

// place books the given matches into st. Matches that find no slot stay
// unbooked and are returned in the result.
func (c *core) place(ctx context.Context, st *bracket.State, matches []*bracket.Match) (*schedule.Result, error) {
	if len(matches) == 0 || len(st.Courts) == 0 {
		return &schedule.Result{}, nil
	}
	w := st.Tournament.Window(c.now())
	if after := playedUntil(st, matches); after.After(w.Start) {
		w.Start = after
	}
	if !w.End.After(w.Start) {
		c.logger.Warn("tournament window closed, new matches left unscheduled", "tournament_id", st.Tournament.ID, "matches", len(matches))
		res := &schedule.Result{}
		for _, m := range matches {
			res.Unscheduled = append(res.Unscheduled, schedule.Unscheduled{MatchID: m.ID, Reason: "tournament window closed"})
		}
		return res, nil
	}
	sched, err := c.scheduler(ctx, st)
	if err != nil {
		return nil, err
	}
	env := constraint.NewEnv(st)
	env.Weather = c.weather
	res, err := sched.Schedule(ctx, matches, w, env)
	if err != nil {
		return nil, err
	}
	st.Schedules = append(st.Schedules, res.Schedules...)
	return res, nil
}

// playedUntil is the latest end of any settled match played by a team in
// matches, so a new round never starts before its feeders finished.
func playedUntil(st *bracket.State, matches []*bracket.Match) time.Time {
	var latest time.Time
	for _, m := range matches {
		for _, team := range []uuid.UUID{m.Team1, m.Team2} {
			for _, prev := range st.TeamMatches(team) {
				if prev.ID == m.ID || !prev.IsSettled() {
					continue
				}
				if sc, ok := st.ActiveSchedule(prev.ID); ok && sc.EndsAt().After(latest) {
					latest = sc.EndsAt()
				}
			}
		}
	}
	return latest
}

func (c *core) publish(typ notify.EventType, tournamentID uuid.UUID, payload any) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(notify.Event{Type: typ, TournamentID: tournamentID, Payload: payload, At: c.now().UTC()})
}
