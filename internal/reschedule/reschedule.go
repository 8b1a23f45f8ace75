// Package reschedule replans matches after disruptions.
//
// Like progression, every operation works on a clone of the State it is
// given and returns the clone in its Outcome. A failed operation leaves the
// caller's State untouched.
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/constraint"
	"github.com/padelyzer/tournament-engine/internal/geo"
	"github.com/padelyzer/tournament-engine/internal/progression"
	"github.com/padelyzer/tournament-engine/internal/schedule"
)

type ReasonKind string

const (
	ReasonWeather          ReasonKind = "weather"
	ReasonCourtUnavailable ReasonKind = "court_unavailable"
	ReasonTeamRequest      ReasonKind = "team_request"
	ReasonConflict         ReasonKind = "conflict"
	ReasonWithdrawal       ReasonKind = "withdrawal"
	ReasonDisplaced        ReasonKind = "displaced"
	ReasonCompression      ReasonKind = "compression"
	ReasonExpansion        ReasonKind = "expansion"
	ReasonMakeup           ReasonKind = "makeup"
)

type Reason struct {
	Kind     ReasonKind       `json:"kind"`
	Priority bracket.Priority `json:"priority"`
	// Deadline bounds the search for a new slot; the tournament end applies
	// otherwise.
	Deadline *time.Time `json:"deadline,omitempty"`
	Note     string     `json:"note,omitempty"`
}

func (r Reason) Validate() error {
	if r.Kind == "" {
		return bracket.Validationf("reschedule reason is required")
	}
	switch r.Priority {
	case bracket.PriorityLow, bracket.PriorityMedium, bracket.PriorityHigh, bracket.PriorityCritical:
	default:
		return bracket.Validationf("unknown reason priority %q", r.Priority)
	}
	return nil
}

func (r Reason) String() string {
	if r.Note == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Note)
}

// strict reasons only accept slots without any violation.
func (r Reason) strict() bool {
	return r.Priority.Rank() >= bracket.PriorityHigh.Rank()
}

type Slot struct {
	CourtID  uuid.UUID `json:"court_id"`
	StartsAt time.Time `json:"starts_at"`
}

type Move struct {
	MatchID uuid.UUID `json:"match_id"`
	From    *Slot     `json:"from,omitempty"`
	To      Slot      `json:"to"`
	// Depth is 0 for the requested match and grows along a cascade.
	Depth int `json:"depth"`
}

type Manual struct {
	MatchID uuid.UUID `json:"match_id"`
	Reason  string    `json:"reason"`
}

type Outcome struct {
	State       *bracket.State `json:"-"`
	Moved       []Move         `json:"moved,omitempty"`
	Failed      []Manual       `json:"failed,omitempty"`
	NeedsManual []Manual       `json:"needs_manual,omitempty"`

	// Set by withdrawals, which settle matches and can open new ones.
	Forfeited  []uuid.UUID          `json:"forfeited,omitempty"`
	NewMatches []*bracket.Match     `json:"new_matches,omitempty"`
	Completed  bool                 `json:"completed,omitempty"`
	Standings  []bracket.Standing   `json:"standings,omitempty"`
	Awards     []bracket.PrizeAward `json:"awards,omitempty"`
}

type Rescheduler struct {
	sched    *schedule.Scheduler
	progress *progression.Engine
	weather  constraint.WeatherSource
	logger   *slog.Logger
	maxDepth int
	now      func() time.Time
}

type Option func(*Rescheduler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Rescheduler) { r.logger = l }
}

// WithMaxDepth bounds how many matches one request may displace in a chain.
func WithMaxDepth(n int) Option {
	return func(r *Rescheduler) { r.maxDepth = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Rescheduler) { r.now = now }
}

func WithWeather(w constraint.WeatherSource) Option {
	return func(r *Rescheduler) { r.weather = w }
}

// WithProgression sets the engine that settles matches of withdrawn teams.
func WithProgression(e *progression.Engine) Option {
	return func(r *Rescheduler) { r.progress = e }
}

func New(sched *schedule.Scheduler, opts ...Option) *Rescheduler {
	r := &Rescheduler{
		sched:    sched,
		logger:   slog.Default(),
		maxDepth: 3,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.progress == nil {
		r.progress = progression.New(progression.WithLogger(r.logger))
	}
	return r
}

func (r *Rescheduler) env(st *bracket.State) *constraint.Env {
	env := constraint.NewEnv(st)
	env.Weather = r.weather
	return env
}

// window is where a reason allows a match to move.
func (r *Rescheduler) window(st *bracket.State, reason Reason) (bracket.TimeWindow, error) {
	if st.Tournament == nil {
		return bracket.TimeWindow{}, bracket.Validationf("state has no tournament")
	}
	w := st.Tournament.Window(r.now())
	if reason.Deadline != nil && reason.Deadline.Before(w.End) {
		w.End = *reason.Deadline
	}
	if !w.End.After(w.Start) {
		return w, bracket.Validationf("no time left to reschedule before %s", w.End.Format(time.RFC3339))
	}
	return w, nil
}

func pendingMatch(st *bracket.State, id uuid.UUID) (*bracket.Match, error) {
	m, ok := st.Match(id)
	if !ok {
		return nil, bracket.NotFoundf("match %s", id)
	}
	if !m.IsPending() {
		return nil, bracket.Validationf("match %s is %s and cannot be rescheduled", id, m.Status)
	}
	return m, nil
}

// RescheduleMatch moves one match. With a preferred time the match may take
// a court held by a lower priority tentative match; the displaced match is
// then moved in turn at escalated priority. A displaced match that cannot
// be placed within the depth limit is marked conflict and reported in
// NeedsManual.
func (r *Rescheduler) RescheduleMatch(ctx context.Context, st *bracket.State, matchID uuid.UUID, reason Reason, preferred *time.Time) (*Outcome, error) {
	if err := reason.Validate(); err != nil {
		return nil, err
	}
	w, err := r.window(st, reason)
	if err != nil {
		return nil, err
	}
	if preferred != nil && (preferred.Before(w.Start) || !preferred.Before(w.End)) {
		return nil, bracket.Validationf("preferred time %s is outside %s to %s",
			preferred.Format(time.RFC3339), w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}

	next := st.Clone()
	m, err := pendingMatch(next, matchID)
	if err != nil {
		return nil, err
	}
	c := r.newCascade(next, w)
	if err := c.move(ctx, m, reason, preferred, 0); err != nil {
		return nil, err
	}
	if err := verify(next); err != nil {
		return nil, err
	}
	r.logger.Info("match rescheduled", "match_id", matchID, "reason", reason.String(), "moves", len(c.out.Moved), "manual", len(c.out.NeedsManual))
	return c.out, nil
}

// cascade carries one rescheduling request through its displacements.
type cascade struct {
	r       *Rescheduler
	st      *bracket.State
	env     *constraint.Env
	w       bracket.TimeWindow
	out     *Outcome
	touched map[uuid.UUID]bool
	former  map[uuid.UUID]Slot
	blocked []bracket.TimeWindow
}

func (r *Rescheduler) newCascade(st *bracket.State, w bracket.TimeWindow) *cascade {
	return &cascade{
		r:       r,
		st:      st,
		env:     r.env(st),
		w:       w,
		out:     &Outcome{State: st},
		touched: make(map[uuid.UUID]bool),
		former:  make(map[uuid.UUID]Slot),
	}
}

func (c *cascade) effectivePriority(m *bracket.Match, depth int) int {
	return m.Priority + 10*depth
}

func (c *cascade) acceptable(m *bracket.Match, p constraint.Placement, vs []constraint.Violation, reason Reason) bool {
	if constraint.HasCritical(vs) || (reason.strict() && len(vs) > 0) || p.End().After(c.w.End) {
		return false
	}
	if f, ok := c.former[m.ID]; ok && f.CourtID == p.Court.EntityID() && f.StartsAt.Equal(p.Start) {
		return false
	}
	for _, b := range c.blocked {
		if b.Overlaps(p.Start, p.End()) {
			return false
		}
	}
	return true
}

// remember records the match's active slot so it is not handed back.
func (c *cascade) remember(m *bracket.Match) {
	if cur, ok := c.st.ActiveSchedule(m.ID); ok {
		c.former[m.ID] = Slot{CourtID: cur.CourtID, StartsAt: cur.StartsAt}
	}
}

func (c *cascade) move(ctx context.Context, m *bracket.Match, reason Reason, preferred *time.Time, depth int) error {
	c.touched[m.ID] = true
	c.remember(m)
	dur := c.r.sched.Config().SlotDuration

	if preferred != nil {
		for _, court := range c.courtsFor(m) {
			p := constraint.Placement{Match: m, Court: court, Start: *preferred, Duration: dur}
			if c.acceptable(m, p, c.r.sched.Evaluate(p, c.env), reason) {
				return c.commit(m, p, reason, depth)
			}
		}
		if ok, err := c.displaceAt(ctx, m, *preferred, reason, depth); ok || err != nil {
			return err
		}
	}

	if ok, err := c.bestFree(ctx, m, reason, depth); ok || err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for _, p := range c.r.sched.Candidates(m, c.w.Start, c.w.End) {
		if seen[p.Start.Unix()] {
			continue
		}
		seen[p.Start.Unix()] = true
		if ok, err := c.displaceAt(ctx, m, p.Start, reason, depth); ok || err != nil {
			return err
		}
	}
	return bracket.Infeasiblef("no slot for match %s between %s and %s",
		m.ID, c.w.Start.Format(time.RFC3339), c.w.End.Format(time.RFC3339))
}

// courtsFor lists the match's current court first.
func (c *cascade) courtsFor(m *bracket.Match) []*bracket.Court {
	courts := slices.Clone(c.r.sched.Courts())
	if cur, ok := c.st.ActiveSchedule(m.ID); ok {
		slices.SortStableFunc(courts, func(a, b *bracket.Court) int {
			switch {
			case a.ID == cur.CourtID:
				return -1
			case b.ID == cur.CourtID:
				return 1
			}
			return 0
		})
	}
	return courts
}

const travelDeltaWeight = 0.1

// bestFree picks the best unoccupied slot, penalising distance from the
// match's current venue.
func (c *cascade) bestFree(ctx context.Context, m *bracket.Match, reason Reason, depth int) (bool, error) {
	alts, err := c.r.sched.Alternatives(ctx, m, c.w.Start, c.w.End, c.env)
	if err != nil {
		return false, err
	}
	var origin *bracket.Location
	if f, ok := c.former[m.ID]; ok {
		if court, ok := c.r.sched.Court(f.CourtID); ok {
			loc, _ := court.Location()
			origin = &loc
		}
	}
	best, bestScore := -1, 0.0
	for i, alt := range alts {
		if !c.acceptable(m, alt.Placement, alt.Violations, reason) {
			continue
		}
		score := alt.Score
		if origin != nil {
			loc, _ := alt.Placement.Court.Location()
			score -= travelDeltaWeight * geo.DistanceKm(*origin, loc)
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return false, nil
	}
	return true, c.commit(m, alts[best].Placement, reason, depth)
}

// displaceAt places m at start on a court held by a lower priority
// tentative match, then moves that match one level deeper.
func (c *cascade) displaceAt(ctx context.Context, m *bracket.Match, start time.Time, reason Reason, depth int) (bool, error) {
	if depth >= c.r.maxDepth {
		return false, nil
	}
	dur := c.r.sched.Config().SlotDuration
	for _, court := range c.courtsFor(m) {
		b, busy := c.env.CourtBusy(court.ID, start, start.Add(dur), m.ID)
		if !busy || c.touched[b.MatchID] {
			continue
		}
		occ, ok := c.st.Match(b.MatchID)
		if !ok || occ.Priority >= c.effectivePriority(m, depth) {
			continue
		}
		held, ok := c.st.ActiveSchedule(occ.ID)
		if !ok || held.Status != bracket.ScheduleTentative {
			continue
		}

		c.env.Release(occ.ID)
		p := constraint.Placement{Match: m, Court: court, Start: start, Duration: dur}
		if !c.acceptable(m, p, c.r.sched.Evaluate(p, c.env), reason) {
			c.env.Book(occ, b.CourtID, b.Start, b.End.Sub(b.Start))
			continue
		}

		c.remember(occ)
		held.Retire(bracket.ScheduleRescheduled, fmt.Sprintf("%s by match %s", ReasonDisplaced, m.ID))
		if err := c.commit(m, p, reason, depth); err != nil {
			return false, err
		}
		if occ.Status == bracket.MatchScheduled {
			if err := occ.Transition(bracket.MatchPostponed); err != nil {
				return false, err
			}
		}
		cascaded := Reason{Kind: ReasonDisplaced, Priority: reason.Priority, Deadline: reason.Deadline, Note: m.ID.String()}
		err := c.move(ctx, occ, cascaded, nil, depth+1)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, bracket.ErrInfeasible) {
			return false, err
		}
		msg := fmt.Sprintf("displaced by match %s and no slot found within %d moves", m.ID, c.r.maxDepth)
		held.Retire(bracket.ScheduleConflict, msg)
		c.out.NeedsManual = append(c.out.NeedsManual, Manual{MatchID: occ.ID, Reason: msg})
		c.r.logger.Warn("cascade left match unscheduled", "match_id", occ.ID, "depth", depth+1)
		return true, nil
	}
	return false, nil
}

// commit retires the match's active schedule and books p in its place.
func (c *cascade) commit(m *bracket.Match, p constraint.Placement, reason Reason, depth int) error {
	out, err := place(c.st, c.env, m, p, reason, min(100, c.effectivePriority(m, depth)), c.r.now())
	if err != nil {
		return err
	}
	out.Depth = depth
	if f, ok := c.former[m.ID]; ok && out.From == nil {
		out.From = &f
	}
	c.out.Moved = append(c.out.Moved, out)
	return nil
}

func place(st *bracket.State, env *constraint.Env, m *bracket.Match, p constraint.Placement, reason Reason, priority int, now time.Time) (Move, error) {
	mv := Move{MatchID: m.ID, To: Slot{CourtID: p.Court.EntityID(), StartsAt: p.Start}}
	if cur, ok := st.ActiveSchedule(m.ID); ok {
		cur.Retire(bracket.ScheduleRescheduled, reason.String())
		mv.From = &Slot{CourtID: cur.CourtID, StartsAt: cur.StartsAt}
	}
	if m.Status == bracket.MatchPostponed {
		if err := m.Transition(bracket.MatchScheduled); err != nil {
			return mv, err
		}
	}
	st.Schedules = append(st.Schedules, &bracket.MatchSchedule{
		ID:           uuid.New(),
		TournamentID: m.TournamentID,
		MatchID:      m.ID,
		CourtID:      p.Court.EntityID(),
		StartsAt:     p.Start,
		Duration:     p.Duration,
		Status:       bracket.ScheduleTentative,
		Priority:     priority,
		CreatedAt:    now,
	})
	env.Book(m, p.Court.EntityID(), p.Start, p.Duration)
	return mv, nil
}

// verify rejects a state where two active schedules share a court or a
// team at overlapping times.
func verify(st *bracket.State) error {
	active := st.ActiveSchedules()
	for i, a := range active {
		for _, b := range active[i+1:] {
			if !a.StartsAt.Before(b.EndsAt()) || !b.StartsAt.Before(a.EndsAt()) {
				continue
			}
			if a.CourtID == b.CourtID {
				return bracket.Integrityf("matches %s and %s share court %s at %s", a.MatchID, b.MatchID, a.CourtID, a.StartsAt.Format(time.RFC3339))
			}
			ma, okA := st.Match(a.MatchID)
			mb, okB := st.Match(b.MatchID)
			if okA && okB && (ma.HasTeam(mb.Team1) || ma.HasTeam(mb.Team2)) {
				return bracket.Integrityf("matches %s and %s overlap for a shared team", a.MatchID, b.MatchID)
			}
		}
	}
	for _, sc := range active {
		if n := countActive(active, sc.MatchID); n > 1 {
			return bracket.Integrityf("match %s holds %d active schedules", sc.MatchID, n)
		}
	}
	return nil
}

func countActive(active []*bracket.MatchSchedule, matchID uuid.UUID) int {
	var n int
	for _, sc := range active {
		if sc.MatchID == matchID {
			n++
		}
	}
	return n
}
