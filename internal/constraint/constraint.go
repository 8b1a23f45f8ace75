// Package constraint scores candidate match placements. Evaluators never
// modify anything; a violation is data for the caller to weigh, and only a
// critical one rules a placement out.
package constraint

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
)

type Severity = bracket.Priority

const (
	Low      = bracket.PriorityLow
	Medium   = bracket.PriorityMedium
	High     = bracket.PriorityHigh
	Critical = bracket.PriorityCritical
)

// Weight multiplies a violation's base penalty.
func Weight(s Severity) float64 {
	switch s {
	case Medium:
		return 2
	case High:
		return 5
	case Critical:
		return 10
	default:
		return 1
	}
}

type Violation struct {
	Type     bracket.ConstraintType `json:"type"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Penalty  float64                `json:"penalty"`
	Affected []uuid.UUID            `json:"affected_entities,omitempty"`
}

func newViolation(typ bracket.ConstraintType, sev Severity, base float64, affected []uuid.UUID, format string, args ...any) Violation {
	return Violation{
		Type:     typ,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Penalty:  base * Weight(sev),
		Affected: affected,
	}
}

// Placement is a candidate court and start time for a match.
type Placement struct {
	Match    *bracket.Match
	Court    bracket.CourtInfo
	Start    time.Time
	Duration time.Duration
}

func (p Placement) End() time.Time {
	return p.Start.Add(p.Duration)
}

type Evaluator interface {
	Type() bracket.ConstraintType
	Evaluate(p Placement, env *Env) []Violation
}

type factory func(cfg bracket.ScheduleConstraint) (Evaluator, error)

var registry = map[bracket.ConstraintType]factory{
	bracket.ConstraintCourtAvailability:  newCourtAvailability,
	bracket.ConstraintPlayerAvailability: newPlayerAvailability,
	bracket.ConstraintTravelDistance:     newTravelDistance,
	bracket.ConstraintRestPeriod:         newRestPeriod,
	bracket.ConstraintBlackoutDates:      newBlackoutDates,
	bracket.ConstraintVenueCapacity:      newVenueCapacity,
	bracket.ConstraintWeather:            newWeather,
}

type Engine struct {
	evaluators []Evaluator
	logger     *slog.Logger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds the evaluator set from the active configs. Court
// occupancy and team clashes are always checked; a court_availability or
// rest_period config refines those checks instead of adding a second one.
func NewEngine(configs []bracket.ScheduleConstraint, opts ...Option) (*Engine, error) {
	e := &Engine{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}

	hard := map[bracket.ConstraintType]Evaluator{
		bracket.ConstraintCourtAvailability: &courtAvailability{},
		bracket.ConstraintRestPeriod:        &restPeriod{},
	}
	var soft []Evaluator
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		build, ok := registry[cfg.Type]
		if !ok {
			return nil, bracket.Validationf("unknown constraint type %q", cfg.Type)
		}
		ev, err := build(cfg)
		if err != nil {
			return nil, fmt.Errorf("constraint %s (%s): %w", cfg.ID, cfg.Type, err)
		}
		if _, isHard := hard[cfg.Type]; isHard {
			hard[cfg.Type] = ev
			continue
		}
		soft = append(soft, ev)
	}
	e.evaluators = append(e.evaluators, hard[bracket.ConstraintCourtAvailability], hard[bracket.ConstraintRestPeriod])
	e.evaluators = append(e.evaluators, soft...)
	return e, nil
}

// Evaluate runs every evaluator against one placement, most severe first.
func (e *Engine) Evaluate(p Placement, env *Env) []Violation {
	var out []Violation
	for _, ev := range e.evaluators {
		out = append(out, ev.Evaluate(p, env)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

func HasCritical(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == Critical {
			return true
		}
	}
	return false
}

func TotalPenalty(vs []Violation) float64 {
	var sum float64
	for _, v := range vs {
		sum += v.Penalty
	}
	return sum
}

// RelaxationThreshold is the share of violating matches above which a
// schedule report suggests loosening constraints.
const RelaxationThreshold = 0.2

type Report struct {
	Matches         int                            `json:"matches"`
	WithViolations  int                            `json:"with_violations"`
	ByType          map[bracket.ConstraintType]int `json:"by_type"`
	BySeverity      map[Severity]int               `json:"by_severity"`
	TotalPenalty    float64                        `json:"total_penalty"`
	ViolationRate   float64                        `json:"violation_rate"`
	NeedsRelaxation bool                           `json:"needs_relaxation"`
	Suggestions     []string                       `json:"suggestions,omitempty"`
	Violations      map[uuid.UUID][]Violation      `json:"violations,omitempty"`
}

// EvaluateSchedule scores every placement against env, where each
// placement's own booking is ignored.
func (e *Engine) EvaluateSchedule(placements []Placement, env *Env) Report {
	r := Report{
		Matches:    len(placements),
		ByType:     make(map[bracket.ConstraintType]int),
		BySeverity: make(map[Severity]int),
		Violations: make(map[uuid.UUID][]Violation),
	}
	for _, p := range placements {
		vs := e.Evaluate(p, env)
		if len(vs) == 0 {
			continue
		}
		r.WithViolations++
		r.Violations[p.Match.ID] = vs
		for _, v := range vs {
			r.ByType[v.Type]++
			r.BySeverity[v.Severity]++
			r.TotalPenalty += v.Penalty
		}
	}
	if r.Matches > 0 {
		r.ViolationRate = float64(r.WithViolations) / float64(r.Matches)
	}
	if r.ViolationRate > RelaxationThreshold {
		r.NeedsRelaxation = true
		types := make([]bracket.ConstraintType, 0, len(r.ByType))
		for t := range r.ByType {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool {
			if r.ByType[types[i]] != r.ByType[types[j]] {
				return r.ByType[types[i]] > r.ByType[types[j]]
			}
			return types[i] < types[j]
		})
		for _, t := range types {
			r.Suggestions = append(r.Suggestions, fmt.Sprintf("relax %s: %d violations", t, r.ByType[t]))
		}
		e.logger.Warn("schedule violation rate above threshold",
			"rate", r.ViolationRate,
			"matches", r.Matches,
			"with_violations", r.WithViolations,
		)
	}
	return r
}
