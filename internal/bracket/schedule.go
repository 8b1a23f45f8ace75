package bracket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/utils"
)

type ScheduleStatus string

const (
	ScheduleTentative   ScheduleStatus = "tentative"
	ScheduleConfirmed   ScheduleStatus = "confirmed"
	ScheduleConflict    ScheduleStatus = "conflict"
	ScheduleRescheduled ScheduleStatus = "rescheduled"
	ScheduleCancelled   ScheduleStatus = "cancelled"
)

// MatchSchedule places a match on a court. Rows are never deleted, only
// moved out of the active statuses, so the table doubles as an audit trail.
type MatchSchedule struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	TournamentID   uuid.UUID      `db:"tournament_id" json:"tournament_id"`
	MatchID        uuid.UUID      `db:"match_id" json:"match_id"`
	CourtID        uuid.UUID      `db:"court_id" json:"court_id"`
	StartsAt       time.Time      `db:"starts_at" json:"starts_at"`
	Duration       time.Duration  `db:"duration" json:"duration"`
	Status         ScheduleStatus `db:"status" json:"status"`
	Priority       int            `db:"priority" json:"priority"`
	ConflictReason *string        `db:"conflict_reason" json:"conflict_reason,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

func (s *MatchSchedule) EndsAt() time.Time {
	return s.StartsAt.Add(s.Duration)
}

// IsActive reports whether the schedule holds its court slot.
func (s *MatchSchedule) IsActive() bool {
	return s.Status == ScheduleTentative || s.Status == ScheduleConfirmed
}

func (s *MatchSchedule) Overlaps(courtID uuid.UUID, start, end time.Time) bool {
	return s.IsActive() && s.CourtID == courtID && start.Before(s.EndsAt()) && s.StartsAt.Before(end)
}

// Retire moves an active schedule out of its slot, keeping the row.
func (s *MatchSchedule) Retire(status ScheduleStatus, reason string) {
	s.Status = status
	if r := utils.StringOrNil(reason); r != nil {
		s.ConflictReason = r
	}
}

type ConstraintType string

const (
	ConstraintCourtAvailability  ConstraintType = "court_availability"
	ConstraintPlayerAvailability ConstraintType = "player_availability"
	ConstraintTravelDistance     ConstraintType = "travel_distance"
	ConstraintRestPeriod         ConstraintType = "rest_period"
	ConstraintBlackoutDates      ConstraintType = "blackout_dates"
	ConstraintVenueCapacity      ConstraintType = "venue_capacity"
	ConstraintWeather            ConstraintType = "weather"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from low (0) to critical (3).
func (p Priority) Rank() int {
	switch p {
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 0
	}
}

// Escalate returns the next priority up, saturating at critical.
func (p Priority) Escalate() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// ScheduleConstraint is operator configuration; the engine only reads it.
type ScheduleConstraint struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	TournamentID uuid.UUID       `db:"tournament_id" json:"tournament_id"`
	Type         ConstraintType  `db:"type" json:"type"`
	Params       json.RawMessage `db:"params" json:"params,omitempty"`
	Priority     Priority        `db:"priority" json:"priority"`
	Active       bool            `db:"active" json:"active"`
}
