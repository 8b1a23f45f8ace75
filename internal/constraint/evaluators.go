package constraint

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/geo"
)

const hardPenalty = 100

func decode(cfg bracket.ScheduleConstraint, into any) error {
	if len(cfg.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cfg.Params, into); err != nil {
		return bracket.Validationf("invalid %s params: %v", cfg.Type, err)
	}
	return nil
}

// scaled maps how far a limit is exceeded, as a fraction of the limit, onto
// a severity that never reaches critical.
func scaled(ratio float64) Severity {
	switch {
	case ratio < 0.25:
		return Low
	case ratio < 0.5:
		return Medium
	default:
		return High
	}
}

func matchTeams(m *bracket.Match) []uuid.UUID {
	return []uuid.UUID{m.Team1, m.Team2}
}

type blockedWindow struct {
	CourtID uuid.UUID `json:"court_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// courtAvailability rejects reserved or maintained courts and courts
// already holding another match.
type courtAvailability struct {
	Windows []blockedWindow `json:"windows"`
}

func newCourtAvailability(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	c := &courtAvailability{}
	return c, decode(cfg, c)
}

func (c *courtAvailability) Type() bracket.ConstraintType { return bracket.ConstraintCourtAvailability }

func (c *courtAvailability) Evaluate(p Placement, env *Env) []Violation {
	courtID := p.Court.EntityID()
	affected := []uuid.UUID{courtID}
	if w, blocked := p.Court.BlockedDuring(p.Start, p.End()); blocked {
		return []Violation{newViolation(c.Type(), Critical, hardPenalty, affected,
			"court %s is unavailable from %s to %s", courtID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))}
	}
	for _, w := range c.Windows {
		if w.CourtID == courtID && p.Start.Before(w.End) && w.Start.Before(p.End()) {
			return []Violation{newViolation(c.Type(), Critical, hardPenalty, affected,
				"court %s is under maintenance from %s to %s", courtID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))}
		}
	}
	if b, busy := env.CourtBusy(courtID, p.Start, p.End(), p.Match.ID); busy {
		return []Violation{newViolation(c.Type(), Critical, hardPenalty, []uuid.UUID{courtID, b.MatchID},
			"court %s is already booked by match %s at %s", courtID, b.MatchID, b.Start.Format(time.RFC3339))}
	}
	return nil
}

// restPeriod rejects a team playing two matches at once and scores
// turnarounds shorter than MinHours by how short they are.
type restPeriod struct {
	MinHours float64 `json:"min_hours"`
}

func newRestPeriod(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	r := &restPeriod{}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	if r.MinHours < 0 {
		return nil, bracket.Validationf("rest_period min_hours must not be negative")
	}
	return r, nil
}

func (r *restPeriod) Type() bracket.ConstraintType { return bracket.ConstraintRestPeriod }

func (r *restPeriod) Evaluate(p Placement, env *Env) []Violation {
	var out []Violation
	for _, team := range matchTeams(p.Match) {
		shortest := -1.0
		for _, b := range env.TeamBookings(team, p.Match.ID) {
			if p.Start.Before(b.End) && b.Start.Before(p.End()) {
				out = append(out, newViolation(r.Type(), Critical, hardPenalty, []uuid.UUID{team, b.MatchID},
					"team %s already plays match %s at %s", team, b.MatchID, b.Start.Format(time.RFC3339)))
				shortest = -1
				break
			}
			gap := p.Start.Sub(b.End)
			if b.Start.After(p.Start) {
				gap = b.Start.Sub(p.End())
			}
			if h := gap.Hours(); shortest < 0 || h < shortest {
				shortest = h
			}
		}
		if r.MinHours == 0 || shortest < 0 || shortest >= r.MinHours {
			continue
		}
		short := r.MinHours - shortest
		out = append(out, newViolation(r.Type(), scaled(short/r.MinHours), short, []uuid.UUID{team},
			"team %s gets %.1fh rest, %.1fh required", team, shortest, r.MinHours))
	}
	return out
}

// playerAvailability counts roster members who declared themselves
// unavailable. A team with nobody available cannot play at all.
type playerAvailability struct {
	MaxUnavailable int `json:"max_unavailable"`
}

func newPlayerAvailability(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	pa := &playerAvailability{}
	return pa, decode(cfg, pa)
}

func (pa *playerAvailability) Type() bracket.ConstraintType {
	return bracket.ConstraintPlayerAvailability
}

func (pa *playerAvailability) Evaluate(p Placement, env *Env) []Violation {
	var missing []uuid.UUID
	severity := High
	for _, id := range matchTeams(p.Match) {
		t, ok := env.Team(id)
		if !ok {
			continue
		}
		members := t.Members()
		var away int
		for _, pl := range members {
			if !pl.AvailableDuring(p.Start, p.End()) {
				missing = append(missing, pl.ID)
				away++
			}
		}
		if len(members) > 0 && away == len(members) {
			severity = Critical
		}
	}
	if len(missing) <= pa.MaxUnavailable {
		return nil
	}
	return []Violation{newViolation(pa.Type(), severity, float64(10*len(missing)), missing,
		"%d players unavailable, at most %d allowed", len(missing), pa.MaxUnavailable)}
}

// travelDistance compares the combined distance both teams travel to the
// court against MaxKm.
type travelDistance struct {
	MaxKm float64 `json:"max_km"`
}

func newTravelDistance(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	td := &travelDistance{MaxKm: 50}
	if err := decode(cfg, td); err != nil {
		return nil, err
	}
	if td.MaxKm <= 0 {
		return nil, bracket.Validationf("travel_distance max_km must be positive")
	}
	return td, nil
}

func (td *travelDistance) Type() bracket.ConstraintType { return bracket.ConstraintTravelDistance }

func (td *travelDistance) Evaluate(p Placement, env *Env) []Violation {
	court, ok := p.Court.Location()
	if !ok {
		return nil
	}
	var total float64
	var affected []uuid.UUID
	for _, id := range matchTeams(p.Match) {
		t, ok := env.Team(id)
		if !ok {
			continue
		}
		if loc, ok := t.Location(); ok {
			total += geo.DistanceKm(loc, court)
			affected = append(affected, id)
		}
	}
	if total <= td.MaxKm {
		return nil
	}
	excess := total - td.MaxKm
	return []Violation{newViolation(td.Type(), scaled(excess/td.MaxKm), excess/10, affected,
		"teams travel %.0fkm combined, limit %.0fkm", total, td.MaxKm)}
}

type dateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// blackoutDates blocks exact dates, ranges and recurring weekdays. Exact
// dates and ranges carry the configured priority; recurring weekdays are
// never worse than high.
type blackoutDates struct {
	Dates    []string    `json:"dates"`
	Ranges   []dateRange `json:"ranges"`
	Weekdays []string    `json:"weekdays"`

	severity Severity
	dates    map[string]bool
	weekdays map[time.Weekday]bool
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func newBlackoutDates(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	bd := &blackoutDates{severity: cfg.Priority, dates: make(map[string]bool), weekdays: make(map[time.Weekday]bool)}
	if bd.severity == "" {
		bd.severity = Critical
	}
	if err := decode(cfg, bd); err != nil {
		return nil, err
	}
	for _, d := range bd.Dates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, bracket.Validationf("blackout date %q is not YYYY-MM-DD", d)
		}
		bd.dates[d] = true
	}
	for _, w := range bd.Weekdays {
		wd, ok := weekdayNames[strings.ToLower(w)]
		if !ok {
			return nil, bracket.Validationf("unknown blackout weekday %q", w)
		}
		bd.weekdays[wd] = true
	}
	for _, r := range bd.Ranges {
		if !r.End.After(r.Start) {
			return nil, bracket.Validationf("blackout range ends before it starts")
		}
	}
	return bd, nil
}

func (bd *blackoutDates) Type() bracket.ConstraintType { return bracket.ConstraintBlackoutDates }

func (bd *blackoutDates) Evaluate(p Placement, env *Env) []Violation {
	if day := p.Start.Format(time.DateOnly); bd.dates[day] {
		return []Violation{newViolation(bd.Type(), bd.severity, 20, matchTeams(p.Match), "%s is a blackout date", day)}
	}
	for _, r := range bd.Ranges {
		if p.Start.Before(r.End) && r.Start.Before(p.End()) {
			return []Violation{newViolation(bd.Type(), bd.severity, 20, matchTeams(p.Match),
				"blackout from %s to %s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))}
		}
	}
	if bd.weekdays[p.Start.Weekday()] {
		sev := bd.severity
		if sev == Critical {
			sev = High
		}
		return []Violation{newViolation(bd.Type(), sev, 20, matchTeams(p.Match), "no matches on %s", p.Start.Weekday())}
	}
	return nil
}

// venueCapacity estimates attendance from the match priority, boosted on
// weekends and evenings, and compares it with the court's capacity.
type venueCapacity struct {
	ExpectedAttendance float64 `json:"expected_attendance"`
	WeekendBoost       float64 `json:"weekend_boost"`
	EveningBoost       float64 `json:"evening_boost"`
}

func newVenueCapacity(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	vc := &venueCapacity{ExpectedAttendance: 40, WeekendBoost: 1.5, EveningBoost: 1.3}
	return vc, decode(cfg, vc)
}

func (vc *venueCapacity) Type() bracket.ConstraintType { return bracket.ConstraintVenueCapacity }

func (vc *venueCapacity) Estimate(p Placement) float64 {
	est := vc.ExpectedAttendance
	if p.Match.Priority > 0 {
		est *= float64(p.Match.Priority) / 50
	}
	if wd := p.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		est *= vc.WeekendBoost
	}
	if p.Start.Hour() >= 17 {
		est *= vc.EveningBoost
	}
	return est
}

func (vc *venueCapacity) Evaluate(p Placement, env *Env) []Violation {
	capacity := float64(p.Court.SpectatorCapacity())
	if capacity <= 0 {
		return nil
	}
	est := vc.Estimate(p)
	if est <= capacity {
		return nil
	}
	over := est - capacity
	return []Violation{newViolation(vc.Type(), scaled(over/capacity), over/10, []uuid.UUID{p.Court.EntityID()},
		"about %.0f spectators expected, court holds %.0f", est, capacity)}
}

// WeatherSource supplies a rain probability in [0, 1] when a forecast is
// available for the location and time.
type WeatherSource interface {
	RainProbability(loc bracket.Location, at time.Time) (float64, bool)
}

// weather only concerns outdoor courts. Without a forecast it falls back
// to a seasonal estimate.
type weather struct {
	MaxRainProbability float64 `json:"max_rain_probability"`
}

func newWeather(cfg bracket.ScheduleConstraint) (Evaluator, error) {
	w := &weather{MaxRainProbability: 0.4}
	if err := decode(cfg, w); err != nil {
		return nil, err
	}
	if w.MaxRainProbability < 0 || w.MaxRainProbability > 1 {
		return nil, bracket.Validationf("weather max_rain_probability must be within [0, 1]")
	}
	return w, nil
}

func (w *weather) Type() bracket.ConstraintType { return bracket.ConstraintWeather }

// SeasonalRainRisk is a coarse monthly estimate, shifted six months for the
// southern hemisphere.
func SeasonalRainRisk(loc bracket.Location, at time.Time) float64 {
	month := int(at.Month())
	if loc.Lat < 0 {
		month = (month+5)%12 + 1
	}
	switch month {
	case 12, 1, 2:
		return 0.45
	case 3, 4, 11:
		return 0.4
	case 5, 10:
		return 0.3
	default:
		return 0.15
	}
}

func (w *weather) Evaluate(p Placement, env *Env) []Violation {
	if !p.Court.IsOutdoor() {
		return nil
	}
	loc, _ := p.Court.Location()
	prob, ok := 0.0, false
	if env.Weather != nil {
		prob, ok = env.Weather.RainProbability(loc, p.Start)
	}
	if !ok {
		prob = SeasonalRainRisk(loc, p.Start)
	}
	if prob <= w.MaxRainProbability {
		return nil
	}
	sev := Medium
	if prob-w.MaxRainProbability >= 0.2 {
		sev = High
	}
	return []Violation{newViolation(w.Type(), sev, (prob-w.MaxRainProbability)*10, []uuid.UUID{p.Court.EntityID()},
		"%.0f%% chance of rain on outdoor court", prob*100)}
}
