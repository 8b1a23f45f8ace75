// Package schedule assigns pending matches a court and a start time.
//
// Matches are grouped by stage and every stage gets its own window, offset
// from the previous one. Within a stage the most important matches are
// placed first on the best scoring legal slot; a bounded local search then
// relocates and swaps placements while the aggregate score does not drop.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/geo"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	SlotDuration time.Duration
	// SlotStep separates consecutive candidate start times within a day.
	SlotStep time.Duration
	// Candidate start times run from DayStartHour to DayEndHour inclusive.
	DayStartHour int
	DayEndHour   int
	// RoundSpacing offsets each stage's window from the previous one.
	RoundSpacing          time.Duration
	LocalSearchIterations int
	Parallelism           int
}

func DefaultConfig() Config {
	return Config{
		SlotDuration:          90 * time.Minute,
		SlotStep:              time.Hour,
		DayStartHour:          9,
		DayEndHour:            21,
		RoundSpacing:          48 * time.Hour,
		LocalSearchIterations: 200,
		Parallelism:           4,
	}
}

func (c Config) Validate() error {
	switch {
	case c.SlotDuration <= 0:
		return bracket.Validationf("slot duration must be positive")
	case c.SlotStep <= 0:
		return bracket.Validationf("slot step must be positive")
	case c.DayStartHour < 0 || c.DayEndHour > 23 || c.DayStartHour > c.DayEndHour:
		return bracket.Validationf("invalid day hours %d-%d", c.DayStartHour, c.DayEndHour)
	case c.RoundSpacing <= 0:
		return bracket.Validationf("round spacing must be positive")
	case c.LocalSearchIterations < 0:
		return bracket.Validationf("local search iterations must not be negative")
	}
	return nil
}

type Scheduler struct {
	cfg         Config
	constraints *constraint.Engine
	courts      []*bracket.Court
	courtByID   map[uuid.UUID]*bracket.Court
	venues      []geo.Venue
	homes       map[uuid.UUID]uuid.UUID
	geo         *geo.Optimizer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Scheduler)

func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithOptimizer(o *geo.Optimizer) Option {
	return func(s *Scheduler) { s.geo = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHomeVenues maps teams to the club of their location cluster. Two teams
// sharing a home club are placed there in preference to the per-match pick.
func WithHomeVenues(homes map[uuid.UUID]uuid.UUID) Option {
	return func(s *Scheduler) { s.homes = homes }
}

// New returns a scheduler placing matches on courts, scored by ce.
func New(courts []*bracket.Court, ce *constraint.Engine, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cfg:         DefaultConfig(),
		constraints: ce,
		courts:      courts,
		courtByID:   make(map[uuid.UUID]*bracket.Court, len(courts)),
		venues:      geo.VenuesFromCourts(courts),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.cfg.Parallelism < 1 {
		s.cfg.Parallelism = 1
	}
	if s.geo == nil {
		s.geo = geo.New(geo.WithLogger(s.logger))
	}
	for _, c := range courts {
		s.courtByID[c.ID] = c
	}
	return s, nil
}

func (s *Scheduler) Config() Config { return s.cfg }

// Reconfigure returns a copy of s using cfg.
func (s *Scheduler) Reconfigure(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	c := *s
	c.cfg = cfg
	return &c, nil
}

func (s *Scheduler) Courts() []*bracket.Court { return s.courts }

func (s *Scheduler) Court(id uuid.UUID) (*bracket.Court, bool) {
	c, ok := s.courtByID[id]
	return c, ok
}

func (s *Scheduler) Evaluate(p constraint.Placement, env *constraint.Env) []constraint.Violation {
	return s.constraints.Evaluate(p, env)
}

// Choice is a legal placement with its score and non-critical violations.
type Choice struct {
	Placement  constraint.Placement   `json:"-"`
	CourtID    uuid.UUID              `json:"court_id"`
	StartsAt   time.Time              `json:"starts_at"`
	Score      float64                `json:"score"`
	Violations []constraint.Violation `json:"violations,omitempty"`
}

type Unscheduled struct {
	MatchID uuid.UUID `json:"match_id"`
	Reason  string    `json:"reason"`
	Err     error     `json:"-"`
}

type Result struct {
	Schedules    []*bracket.MatchSchedule `json:"schedules"`
	Unscheduled  []Unscheduled            `json:"unscheduled,omitempty"`
	Score        float64                  `json:"score"`
	Improvements int                      `json:"improvements"`
	Report       constraint.Report        `json:"report"`
}

// Err joins the reasons of every unplaced match, or returns nil.
func (r *Result) Err() error {
	if len(r.Unscheduled) == 0 {
		return nil
	}
	return bracket.Infeasiblef("%d matches could not be scheduled, first: %s", len(r.Unscheduled), r.Unscheduled[0].Reason)
}

// Candidates lists every court and start time where m fits entirely within
// [from, to), in day, hour, court order.
func (s *Scheduler) Candidates(m *bracket.Match, from, to time.Time) []constraint.Placement {
	var out []constraint.Placement
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		first := day.Add(time.Duration(s.cfg.DayStartHour) * time.Hour)
		last := day.Add(time.Duration(s.cfg.DayEndHour) * time.Hour)
		for start := first; !start.After(last); start = start.Add(s.cfg.SlotStep) {
			if start.Before(from) || start.Add(s.cfg.SlotDuration).After(to) {
				continue
			}
			for _, c := range s.courts {
				out = append(out, constraint.Placement{Match: m, Court: c, Start: start, Duration: s.cfg.SlotDuration})
			}
		}
	}
	return out
}

// Alternatives scores every candidate for m in [from, to) against env and
// returns those without a critical violation, best first.
func (s *Scheduler) Alternatives(ctx context.Context, m *bracket.Match, from, to time.Time, env *constraint.Env) ([]Choice, error) {
	cands := s.Candidates(m, from, to)
	if len(cands) == 0 {
		return nil, nil
	}
	club, hasClub := s.preferredClub(m, env)
	scored := make([]*Choice, len(cands))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	chunk := (len(cands) + s.cfg.Parallelism - 1) / s.cfg.Parallelism
	for lo := 0; lo < len(cands); lo += chunk {
		hi := min(lo+chunk, len(cands))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				p := cands[i]
				vs := s.constraints.Evaluate(p, env)
				if constraint.HasCritical(vs) {
					continue
				}
				scored[i] = &Choice{
					Placement:  p,
					CourtID:    p.Court.EntityID(),
					StartsAt:   p.Start,
					Score:      s.quality(p, env, club, hasClub) - constraint.TotalPenalty(vs),
					Violations: vs,
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score candidates for match %s: %w", m.ID, err)
	}

	out := make([]Choice, 0, len(scored))
	for _, c := range scored {
		if c != nil {
			out = append(out, *c)
		}
	}
	// Candidates are generated in time order, so a stable sort keeps the
	// earliest slot first among equal scores.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Best returns the highest scoring alternative accepted by keep, or false
// when none exists. A nil keep accepts every legal placement.
func (s *Scheduler) Best(ctx context.Context, m *bracket.Match, from, to time.Time, env *constraint.Env, keep func(Choice) bool) (Choice, bool, error) {
	alts, err := s.Alternatives(ctx, m, from, to, env)
	if err != nil {
		return Choice{}, false, err
	}
	for _, c := range alts {
		if keep == nil || keep(c) {
			return c, true, nil
		}
	}
	return Choice{}, false, nil
}

// Schedule places every pending match in matches that env does not already
// book. Placed matches are booked into env. Matches without a legal slot are
// reported in Result.Unscheduled rather than failing the whole call.
func (s *Scheduler) Schedule(ctx context.Context, matches []*bracket.Match, window bracket.TimeWindow, env *constraint.Env) (*Result, error) {
	if !window.End.After(window.Start) {
		return nil, bracket.Validationf("schedule window ends before it starts")
	}
	if len(s.courts) == 0 {
		return nil, bracket.Validationf("no courts to schedule on")
	}

	stages := make(map[int][]*bracket.Match)
	for _, m := range matches {
		if !m.IsPending() {
			continue
		}
		if _, booked := env.Booking(m.ID); booked {
			continue
		}
		stages[m.Stage] = append(stages[m.Stage], m)
	}
	order := make([]int, 0, len(stages))
	for st := range stages {
		order = append(order, st)
	}
	sort.Ints(order)

	res := &Result{}
	var placed []*slot
	for i, stage := range order {
		from, to := s.roundWindow(window, i)
		group := stages[stage]
		sort.SliceStable(group, func(a, b int) bool {
			if group[a].Priority != group[b].Priority {
				return group[a].Priority > group[b].Priority
			}
			return group[a].Number < group[b].Number
		})
		limit := window.End
		if i+1 < len(order) {
			next, _ := s.roundWindow(window, i+1)
			limit = maxTime(to, next)
		}
		for _, m := range group {
			sl, err := s.place(ctx, m, from, to, limit, env)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				res.Unscheduled = append(res.Unscheduled, Unscheduled{MatchID: m.ID, Reason: err.Error(), Err: err})
				s.logger.Warn("match could not be scheduled", "match_id", m.ID, "stage", stage, "err", err)
				continue
			}
			placed = append(placed, sl)
		}
	}

	improvements, err := s.improve(ctx, placed, env)
	if err != nil {
		return nil, err
	}
	res.Improvements = improvements

	placements := make([]constraint.Placement, 0, len(placed))
	created := s.now()
	for _, sl := range placed {
		p := sl.p
		placements = append(placements, p)
		res.Schedules = append(res.Schedules, &bracket.MatchSchedule{
			ID:           uuid.New(),
			TournamentID: p.Match.TournamentID,
			MatchID:      p.Match.ID,
			CourtID:      p.Court.EntityID(),
			StartsAt:     p.Start,
			Duration:     p.Duration,
			Status:       bracket.ScheduleTentative,
			Priority:     p.Match.Priority,
			CreatedAt:    created,
		})
	}
	sort.SliceStable(res.Schedules, func(i, j int) bool {
		return res.Schedules[i].StartsAt.Before(res.Schedules[j].StartsAt)
	})
	res.Score = s.Aggregate(placements, env)
	res.Report = s.constraints.EvaluateSchedule(placements, env)

	s.logger.Info("schedule computed",
		"placed", len(res.Schedules),
		"unscheduled", len(res.Unscheduled),
		"score", math.Round(res.Score*100)/100,
		"improvements", improvements,
	)
	return res, nil
}

// roundWindow returns the window of the i-th stage. Stages that would start
// past the tournament window share the last full window instead.
func (s *Scheduler) roundWindow(w bracket.TimeWindow, i int) (time.Time, time.Time) {
	from := w.Start.Add(time.Duration(i) * s.cfg.RoundSpacing)
	if latest := w.End.Add(-s.cfg.RoundSpacing); from.After(latest) {
		from = latest
		if from.Before(w.Start) {
			from = w.Start
		}
	}
	to := from.Add(s.cfg.RoundSpacing)
	if to.After(w.End) {
		to = w.End
	}
	return from, to
}

// place books the best slot for m in its stage window, widening up to
// limit when the stage window is full. Schedule passes the next stage's
// start as limit so a stage never spills past the one after it.
func (s *Scheduler) place(ctx context.Context, m *bracket.Match, from, to, limit time.Time, env *constraint.Env) (*slot, error) {
	for _, end := range []time.Time{to, limit} {
		c, ok, err := s.Best(ctx, m, from, end, env, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			env.Book(m, c.CourtID, c.StartsAt, c.Placement.Duration)
			return &slot{p: c.Placement, from: from, to: end}, nil
		}
		if !to.Before(limit) {
			break
		}
	}
	return nil, bracket.Infeasiblef("no legal slot for match %s between %s and %s",
		m.ID, from.Format(time.RFC3339), limit.Format(time.RFC3339))
}

// preferredClub is the shared home club of the match's teams, or else the
// club minimising weighted travel for them when their locations are known.
func (s *Scheduler) preferredClub(m *bracket.Match, env *constraint.Env) (uuid.UUID, bool) {
	if h1, ok := s.homes[m.Team1]; ok && h1 == s.homes[m.Team2] {
		return h1, true
	}
	home, ok1 := env.Team(m.Team1)
	away, ok2 := env.Team(m.Team2)
	if !ok1 || !ok2 || len(s.venues) < 2 {
		return uuid.Nil, false
	}
	choices := s.geo.OptimizeMatchVenues([]geo.MatchPair{{MatchID: m.ID, Home: home, Away: away}}, s.venues)
	c, ok := choices[m.ID]
	return c.ClubID, ok
}

const (
	centerBonus        = 5
	featuredCenter     = 15
	primeTimeBonus     = 20
	weekendBonus       = 10
	venueBonus         = 15
	preferredHourCost  = 2
	closeMatchPenalty  = 30
	nearbyMatchPenalty = 15
	featuredPriority   = 80
)

// quality scores a placement independent of constraint penalties.
func (s *Scheduler) quality(p constraint.Placement, env *constraint.Env, club uuid.UUID, hasClub bool) float64 {
	var q float64
	featured := p.Match.Priority >= featuredPriority
	if p.Court.IsCenterCourt() {
		q += centerBonus
		if featured {
			q += featuredCenter
		}
	}
	hour := p.Start.Hour()
	if featured && hour >= 17 && hour < 20 {
		q += primeTimeBonus
	}
	if wd := p.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		q += weekendBonus
	}
	if c, ok := s.courtByID[p.Court.EntityID()]; ok && hasClub && c.ClubID == club {
		q += venueBonus
	}
	for _, id := range []uuid.UUID{p.Match.Team1, p.Match.Team2} {
		if t, ok := env.Team(id); ok && t.PreferredHour != nil {
			q -= preferredHourCost * math.Abs(float64(hour-*t.PreferredHour))
		}
		for _, b := range env.TeamBookings(id, p.Match.ID) {
			gap := p.Start.Sub(b.End)
			if b.Start.After(p.Start) {
				gap = b.Start.Sub(p.End())
			}
			switch {
			case gap < 2*time.Hour:
				q -= closeMatchPenalty
			case gap < 4*time.Hour:
				q -= nearbyMatchPenalty
			}
		}
	}
	return q
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
