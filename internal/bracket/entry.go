package bracket

import (
	"time"

	"github.com/google/uuid"
)

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationWaitlist  RegistrationStatus = "waitlist"
	RegistrationRejected  RegistrationStatus = "rejected"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && w.Start.Before(end)
}

func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

type Player struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Rating      float64      `json:"rating"`
	Unavailable []TimeWindow `json:"unavailable,omitempty"`
}

// AvailableDuring reports whether the player declared no unavailability
// overlapping the interval. Players without declared windows are available.
func (p Player) AvailableDuring(start, end time.Time) bool {
	for _, w := range p.Unavailable {
		if w.Overlaps(start, end) {
			return false
		}
	}
	return true
}

// Team is a confirmed registration snapshot used by the engine.
type Team struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	TournamentID  uuid.UUID          `db:"tournament_id" json:"tournament_id"`
	Name          string             `db:"name" json:"name"`
	Rating        float64            `db:"rating" json:"rating"`
	Seed          int                `db:"seed" json:"seed"`
	Status        RegistrationStatus `db:"status" json:"status"`
	Region        string             `db:"region" json:"region"`
	ClubID        *uuid.UUID         `db:"club_id" json:"club_id,omitempty"`
	Lat           *float64           `db:"lat" json:"lat,omitempty"`
	Lng           *float64           `db:"lng" json:"lng,omitempty"`
	PreferredHour *int               `db:"preferred_hour" json:"preferred_hour,omitempty"`
	RegisteredAt  time.Time          `db:"registered_at" json:"registered_at"`

	Roster []Player `db:"-" json:"roster,omitempty"`
}

// Capability interfaces used by the seeder, constraint engine and
// geographic optimizer instead of probing entity fields.

type Locatable interface {
	EntityID() uuid.UUID
	Location() (Location, bool)
}

type Rated interface {
	AverageRating() float64
}

type Rostered interface {
	Members() []Player
}

func (t *Team) EntityID() uuid.UUID { return t.ID }

func (t *Team) Location() (Location, bool) {
	if t.Lat == nil || t.Lng == nil {
		return Location{}, false
	}
	return Location{Lat: *t.Lat, Lng: *t.Lng}, true
}

// AverageRating prefers the roster average and falls back to the team rating.
func (t *Team) AverageRating() float64 {
	if len(t.Roster) == 0 {
		return t.Rating
	}
	var sum float64
	for _, p := range t.Roster {
		sum += p.Rating
	}
	return sum / float64(len(t.Roster))
}

func (t *Team) Members() []Player { return t.Roster }

func (t *Team) IsConfirmed() bool { return t.Status == RegistrationConfirmed }
