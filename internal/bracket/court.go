package bracket

import (
	"time"

	"github.com/google/uuid"
)

// Court comes from the facility subsystem. Unavailable holds existing
// reservations and maintenance windows.
type Court struct {
	ID       uuid.UUID `db:"id" json:"id"`
	ClubID   uuid.UUID `db:"club_id" json:"club_id"`
	Name     string    `db:"name" json:"name"`
	Lat      float64   `db:"lat" json:"lat"`
	Lng      float64   `db:"lng" json:"lng"`
	Capacity int       `db:"capacity" json:"capacity"`
	Outdoor  bool      `db:"outdoor" json:"outdoor"`
	Center   bool      `db:"center" json:"center"`

	Unavailable []TimeWindow `db:"-" json:"unavailable,omitempty"`
}

type CourtInfo interface {
	Locatable
	SpectatorCapacity() int
	IsOutdoor() bool
	IsCenterCourt() bool
	BlockedDuring(start, end time.Time) (TimeWindow, bool)
}

func (c *Court) EntityID() uuid.UUID { return c.ID }

func (c *Court) Location() (Location, bool) {
	return Location{Lat: c.Lat, Lng: c.Lng}, true
}

func (c *Court) SpectatorCapacity() int { return c.Capacity }
func (c *Court) IsOutdoor() bool         { return c.Outdoor }
func (c *Court) IsCenterCourt() bool     { return c.Center }

func (c *Court) BlockedDuring(start, end time.Time) (TimeWindow, bool) {
	for _, w := range c.Unavailable {
		if w.Overlaps(start, end) {
			return w, true
		}
	}
	return TimeWindow{}, false
}
