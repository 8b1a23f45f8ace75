package constraint

import (
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
)

// Booking is a court slot currently held by a match.
type Booking struct {
	MatchID uuid.UUID
	CourtID uuid.UUID
	Teams   [2]uuid.UUID
	Start   time.Time
	End     time.Time
}

func (b Booking) HasTeam(id uuid.UUID) bool {
	return b.Teams[0] == id || b.Teams[1] == id
}

// Env is the read-only view evaluators score a placement against. Book and
// Release are for the single goroutine that owns the schedule; concurrent
// Evaluate calls are safe between them.
type Env struct {
	Weather WeatherSource

	teams    map[uuid.UUID]*bracket.Team
	bookings map[uuid.UUID]Booking
}

// NewEnv indexes the teams and the active schedules of st.
func NewEnv(st *bracket.State) *Env {
	e := &Env{
		teams:    make(map[uuid.UUID]*bracket.Team, len(st.Teams)),
		bookings: make(map[uuid.UUID]Booking),
	}
	for _, t := range st.Teams {
		e.teams[t.ID] = t
	}
	for _, sc := range st.ActiveSchedules() {
		m, ok := st.Match(sc.MatchID)
		if !ok {
			continue
		}
		e.Book(m, sc.CourtID, sc.StartsAt, sc.Duration)
	}
	return e
}

func (e *Env) Team(id uuid.UUID) (*bracket.Team, bool) {
	t, ok := e.teams[id]
	return t, ok
}

func (e *Env) Book(m *bracket.Match, courtID uuid.UUID, start time.Time, d time.Duration) {
	e.bookings[m.ID] = Booking{
		MatchID: m.ID,
		CourtID: courtID,
		Teams:   [2]uuid.UUID{m.Team1, m.Team2},
		Start:   start,
		End:     start.Add(d),
	}
}

func (e *Env) Release(matchID uuid.UUID) {
	delete(e.bookings, matchID)
}

func (e *Env) Booking(matchID uuid.UUID) (Booking, bool) {
	b, ok := e.bookings[matchID]
	return b, ok
}

// Bookings returns every booking ordered by start time.
func (e *Env) Bookings() []Booking {
	out := make([]Booking, 0, len(e.bookings))
	for _, b := range e.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].MatchID.String() < out[j].MatchID.String()
	})
	return out
}

// CourtBusy returns a booking other than except's overlapping the interval.
func (e *Env) CourtBusy(courtID uuid.UUID, start, end time.Time, except uuid.UUID) (Booking, bool) {
	for _, b := range e.bookings {
		if b.MatchID == except || b.CourtID != courtID {
			continue
		}
		if start.Before(b.End) && b.Start.Before(end) {
			return b, true
		}
	}
	return Booking{}, false
}

// TeamBookings lists the team's bookings other than except's, by start.
func (e *Env) TeamBookings(teamID, except uuid.UUID) []Booking {
	var out []Booking
	for _, b := range e.Bookings() {
		if b.MatchID != except && b.HasTeam(teamID) {
			out = append(out, b)
		}
	}
	return out
}

func (e *Env) Clone() *Env {
	return &Env{
		Weather:  e.Weather,
		teams:    e.teams,
		bookings: maps.Clone(e.bookings),
	}
}
