package bracket

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentDraft              TournamentStatus = "draft"
	TournamentPublished          TournamentStatus = "published"
	TournamentRegistrationOpen   TournamentStatus = "registration_open"
	TournamentRegistrationClosed TournamentStatus = "registration_closed"
	TournamentInProgress         TournamentStatus = "in_progress"
	TournamentCompleted          TournamentStatus = "completed"
	TournamentCancelled          TournamentStatus = "cancelled"
)

// Format selects the bracket strategy. Leagues are round robin tournaments.
type Format string

const (
	SingleElimination Format = "single_elimination"
	DoubleElimination Format = "double_elimination"
	RoundRobin        Format = "round_robin"
	Swiss             Format = "swiss"
)

func (f Format) IsElimination() bool {
	return f == SingleElimination || f == DoubleElimination
}

type SeedingMethod string

const (
	SeedByRating     SeedingMethod = "rating"
	SeedByGeographic SeedingMethod = "geographic"
	SeedManual       SeedingMethod = "manual"
	SeedRandom       SeedingMethod = "random"
)

type Prize struct {
	Position    int    `json:"position"`
	Description string `json:"description"`
}

type PrizeAward struct {
	TournamentID uuid.UUID `db:"tournament_id" json:"tournament_id"`
	Position     int       `db:"position" json:"position"`
	TeamID       uuid.UUID `db:"team_id" json:"team_id"`
	Description  string    `db:"description" json:"description"`
}

type Tournament struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	Name          string           `db:"name" json:"name"`
	Format        Format           `db:"format" json:"format"`
	Status        TournamentStatus `db:"status" json:"status"`
	TotalRounds   int              `db:"total_rounds" json:"total_rounds"`
	StartDate     time.Time        `db:"start_date" json:"start_date"`
	EndDate       time.Time        `db:"end_date" json:"end_date"`
	MaxTeams      int              `db:"max_teams" json:"max_teams"`
	SeedingMethod SeedingMethod    `db:"seeding_method" json:"seeding_method"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`

	Prizes []Prize `db:"-" json:"prizes,omitempty"`
}

var tournamentTransitions = map[TournamentStatus][]TournamentStatus{
	TournamentDraft:              {TournamentPublished},
	TournamentPublished:          {TournamentRegistrationOpen},
	TournamentRegistrationOpen:   {TournamentRegistrationClosed},
	TournamentRegistrationClosed: {TournamentInProgress, TournamentRegistrationOpen},
	TournamentInProgress:         {TournamentCompleted},
}

func (t *Tournament) IsTerminal() bool {
	return t.Status == TournamentCompleted || t.Status == TournamentCancelled
}

// Transition moves the tournament along its lifecycle. Any non-terminal
// tournament may be cancelled.
func (t *Tournament) Transition(to TournamentStatus) error {
	if t.IsTerminal() {
		return Validationf("tournament %s is already %s", t.ID, t.Status)
	}
	if to == TournamentCancelled {
		t.Status = to
		return nil
	}
	for _, next := range tournamentTransitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}
	return Validationf("cannot change tournament status from %s to %s", t.Status, to)
}

func (t *Tournament) Validate() error {
	if t.Name == "" {
		return Validationf("tournament name is required")
	}
	switch t.Format {
	case SingleElimination, DoubleElimination, RoundRobin, Swiss:
	default:
		return Validationf("unknown tournament format %q", t.Format)
	}
	if !t.EndDate.After(t.StartDate) {
		return Validationf("tournament end %s must be after start %s", t.EndDate.Format(time.RFC3339), t.StartDate.Format(time.RFC3339))
	}
	if t.MaxTeams < 0 {
		return Validationf("max teams must not be negative, got %d", t.MaxTeams)
	}
	return nil
}

func (t *Tournament) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Format)
}

// Window is the span matches may be played in, starting no earlier than
// from.
func (t *Tournament) Window(from time.Time) TimeWindow {
	start := t.StartDate
	if from.After(start) {
		start = from
	}
	return TimeWindow{Start: start, End: t.EndDate}
}
