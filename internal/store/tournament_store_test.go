package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/db"
	"github.com/padelyzer/tournament-engine/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database and applies migrations
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	database, err := db.Connect(context.Background(), db.SQLite, "file::memory:")
	require.NoError(t, err, "Failed to connect to in-memory DB")

	err = db.RunMigrations(database, "file://../../migrations")
	require.NoError(t, err, "Failed to apply migrations")

	return database
}

var start = time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

func inTx(t *testing.T, database *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	t.Helper()
	tx, err := database.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func newTournament() *bracket.Tournament {
	return &bracket.Tournament{
		ID:            uuid.New(),
		Name:          "Summer Open",
		Format:        bracket.SingleElimination,
		Status:        bracket.TournamentRegistrationOpen,
		StartDate:     start,
		EndDate:       start.AddDate(0, 0, 4),
		MaxTeams:      16,
		SeedingMethod: bracket.SeedByRating,
		Prizes:        []bracket.Prize{{Position: 1, Description: "Trophy"}},
		CreatedAt:     time.Now().UTC(),
	}
}

// seedState stores a registered tournament with two teams and one court.
func seedState(t *testing.T, database *sqlx.DB, s *Store) *bracket.State {
	t.Helper()
	tournament := newTournament()
	st := &bracket.State{
		Tournament: tournament,
		Teams: []*bracket.Team{
			{
				ID: uuid.New(), TournamentID: tournament.ID, Name: "Galán / Lebrón", Rating: 9.5,
				Status: bracket.RegistrationConfirmed, Lat: utils.Ptr(40.41), Lng: utils.Ptr(-3.70),
				PreferredHour: utils.Ptr(18), RegisteredAt: start.Add(-48 * time.Hour),
				Roster: []bracket.Player{{ID: uuid.New(), Name: "Galán", Rating: 9.6}},
			},
			{
				ID: uuid.New(), TournamentID: tournament.ID, Name: "Coello / Tapia", Rating: 9.8,
				Status: bracket.RegistrationConfirmed, RegisteredAt: start.Add(-24 * time.Hour),
			},
		},
		Courts: []*bracket.Court{{
			ID: uuid.New(), ClubID: uuid.New(), Name: "Center", Capacity: 300, Center: true,
			Unavailable: []bracket.TimeWindow{{Start: start.Add(8 * time.Hour), End: start.Add(10 * time.Hour)}},
		}},
		Constraints: []bracket.ScheduleConstraint{{
			ID: uuid.New(), TournamentID: tournament.ID, Type: bracket.ConstraintRestPeriod,
			Params: json.RawMessage(`{"min_hours":4}`), Priority: bracket.PriorityHigh, Active: true,
		}},
	}

	err := inTx(t, database, func(tx *sqlx.Tx) error {
		if err := s.CreateTournament(context.Background(), tx, st.Tournament); err != nil {
			return err
		}
		if err := s.SaveTeams(context.Background(), tx, st.Teams); err != nil {
			return err
		}
		if err := s.SaveCourts(context.Background(), tx, tournament.ID, st.Courts); err != nil {
			return err
		}
		return s.SaveConstraints(context.Background(), tx, st.Constraints)
	})
	require.NoError(t, err)
	return st
}

func newMatch(st *bracket.State, number int) *bracket.Match {
	return &bracket.Match{
		ID:           uuid.New(),
		TournamentID: st.Tournament.ID,
		NodeIndex:    bracket.NoNode,
		Side:         bracket.WinnersSide,
		Round:        1,
		Stage:        1,
		Number:       number,
		Team1:        st.Teams[0].ID,
		Team2:        st.Teams[1].ID,
		Status:       bracket.MatchScheduled,
		Priority:     90,
	}
}

func newSchedule(st *bracket.State, m *bracket.Match, at time.Time) *bracket.MatchSchedule {
	return &bracket.MatchSchedule{
		ID:           uuid.New(),
		TournamentID: st.Tournament.ID,
		MatchID:      m.ID,
		CourtID:      st.Courts[0].ID,
		StartsAt:     at,
		Duration:     90 * time.Minute,
		Status:       bracket.ScheduleTentative,
		Priority:     m.Priority,
	}
}

func TestCreateTournament(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	tournament := newTournament()

	err := inTx(t, database, func(tx *sqlx.Tx) error {
		return s.CreateTournament(context.Background(), tx, tournament)
	})
	require.NoError(t, err)

	fetched, err := s.GetTournament(context.Background(), database, tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, tournament.ID, fetched.ID)
	assert.Equal(t, tournament.Name, fetched.Name)
	assert.Equal(t, tournament.Format, fetched.Format)
	assert.Equal(t, tournament.Status, fetched.Status)
	assert.Equal(t, tournament.MaxTeams, fetched.MaxTeams)
	assert.Equal(t, tournament.Prizes, fetched.Prizes)
	assert.True(t, tournament.StartDate.Equal(fetched.StartDate))
	assert.True(t, tournament.EndDate.Equal(fetched.EndDate))
	assert.WithinDuration(t, tournament.CreatedAt, fetched.CreatedAt, time.Second)

	_, err = s.GetTournament(context.Background(), database, uuid.New())
	require.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestListTournaments(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	open, running := newTournament(), newTournament()
	running.Status = bracket.TournamentInProgress
	err := inTx(t, database, func(tx *sqlx.Tx) error {
		if err := s.CreateTournament(context.Background(), tx, open); err != nil {
			return err
		}
		return s.CreateTournament(context.Background(), tx, running)
	})
	require.NoError(t, err)

	all, err := s.ListTournaments(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inProgress, err := s.ListTournaments(context.Background(), bracket.TournamentInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, running.ID, inProgress[0].ID)
}

func TestRegistrationRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	st := seedState(t, database, s)

	teams, err := s.GetTeams(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, st.Teams[0].ID, teams[0].ID, "teams come back in registration order")
	assert.Equal(t, st.Teams[0].Roster, teams[0].Roster)
	assert.Equal(t, 18, *teams[0].PreferredHour)
	assert.InDelta(t, 40.41, *teams[0].Lat, 1e-9)
	assert.Nil(t, teams[1].Lat)
	assert.Empty(t, teams[1].Roster)

	courts, err := s.GetCourts(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	require.Len(t, courts, 1)
	assert.True(t, courts[0].Center)
	require.Len(t, courts[0].Unavailable, 1)
	assert.True(t, st.Courts[0].Unavailable[0].Start.Equal(courts[0].Unavailable[0].Start))

	constraints, err := s.GetConstraints(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	require.Len(t, constraints, 1)
	assert.JSONEq(t, `{"min_hours":4}`, string(constraints[0].Params))
	assert.Equal(t, bracket.PriorityHigh, constraints[0].Priority)
	assert.True(t, constraints[0].Active)
}

func TestSaveAndLoadState(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	st := seedState(t, database, s)

	b := &bracket.Bracket{
		ID:            uuid.New(),
		TournamentID:  st.Tournament.ID,
		Format:        bracket.SingleElimination,
		Size:          2,
		Rounds:        1,
		SeedingMethod: bracket.SeedByRating,
	}
	node := bracket.NewNode(bracket.WinnersSide, 1, 0)
	node.Teams = [2]*uuid.UUID{&st.Teams[0].ID, &st.Teams[1].ID}
	b.AddNode(node)

	m := newMatch(st, 1)
	m.NodeIndex = 0
	m.Status = bracket.MatchCompleted
	m.Team1Sets, m.Team2Sets = []int{6, 6}, []int{4, 3}
	m.Winner = utils.Ptr(st.Teams[0].ID)
	b.Nodes[0].MatchID = &m.ID

	st.Bracket = b
	st.Matches = []*bracket.Match{m}
	st.Schedules = []*bracket.MatchSchedule{newSchedule(st, m, start.Add(18*time.Hour))}
	st.Awards = []bracket.PrizeAward{{TournamentID: st.Tournament.ID, Position: 1, TeamID: st.Teams[0].ID, Description: "Trophy"}}
	require.NoError(t, st.Tournament.Transition(bracket.TournamentRegistrationClosed))

	err := inTx(t, database, func(tx *sqlx.Tx) error {
		return s.SaveState(context.Background(), tx, st)
	})
	require.NoError(t, err)

	loaded, err := s.LoadState(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)

	assert.Equal(t, bracket.TournamentRegistrationClosed, loaded.Tournament.Status)
	require.NotNil(t, loaded.Bracket)
	assert.Equal(t, b.ID, loaded.Bracket.ID)
	assert.Equal(t, b.Nodes, loaded.Bracket.Nodes)

	require.Len(t, loaded.Matches, 1)
	got := loaded.Matches[0]
	assert.Equal(t, m.Status, got.Status)
	assert.Equal(t, []int{6, 6}, got.Team1Sets)
	assert.Equal(t, []int{4, 3}, got.Team2Sets)
	assert.Equal(t, *m.Winner, *got.Winner)

	require.Len(t, loaded.Schedules, 1)
	sc := loaded.Schedules[0]
	assert.Equal(t, 90*time.Minute, sc.Duration)
	assert.True(t, start.Add(18*time.Hour).Equal(sc.StartsAt))
	assert.Nil(t, sc.ConflictReason)

	assert.Equal(t, st.Awards, loaded.Awards)
	assert.Len(t, loaded.Courts, 1)
	assert.Len(t, loaded.Constraints, 1)
}

func TestLoadStateWithoutBracket(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	st := seedState(t, database, s)

	loaded, err := s.LoadState(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.Bracket)
	assert.Empty(t, loaded.Matches)

	_, err = s.LoadState(context.Background(), database, uuid.New())
	require.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestSaveStateRejectsDoubleBooking(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	st := seedState(t, database, s)
	m1, m2 := newMatch(st, 1), newMatch(st, 2)
	at := start.Add(10 * time.Hour)
	st.Matches = []*bracket.Match{m1, m2}
	st.Schedules = []*bracket.MatchSchedule{newSchedule(st, m1, at), newSchedule(st, m2, at)}

	err := inTx(t, database, func(tx *sqlx.Tx) error {
		return s.SaveState(context.Background(), tx, st)
	})
	require.ErrorIs(t, err, bracket.ErrSlotTaken)
	assert.True(t, bracket.IsRetryable(err))

	schedules, err := s.GetSchedules(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	assert.Empty(t, schedules, "the failed transaction is rolled back")
}

func TestSaveStateReusesRetiredSlot(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	s := New(database)
	st := seedState(t, database, s)
	m1, m2 := newMatch(st, 1), newMatch(st, 2)
	at := start.Add(10 * time.Hour)
	first := newSchedule(st, m1, at)
	st.Matches = []*bracket.Match{m1, m2}
	st.Schedules = []*bracket.MatchSchedule{first}
	require.NoError(t, inTx(t, database, func(tx *sqlx.Tx) error {
		return s.SaveState(context.Background(), tx, st)
	}))

	next := st.Clone()
	next.Schedules[0].Retire(bracket.ScheduleRescheduled, "weather")
	next.Schedules = append([]*bracket.MatchSchedule{newSchedule(next, m2, at)}, next.Schedules...)
	require.NoError(t, inTx(t, database, func(tx *sqlx.Tx) error {
		return s.SaveState(context.Background(), tx, next)
	}))

	loaded, err := s.LoadState(context.Background(), database, st.Tournament.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Schedules, 2)
	active := loaded.ActiveSchedules()
	require.Len(t, active, 1)
	assert.Equal(t, m2.ID, active[0].MatchID)
	var retired *bracket.MatchSchedule
	for _, sc := range loaded.Schedules {
		if sc.ID == first.ID {
			retired = sc
		}
	}
	require.NotNil(t, retired)
	assert.Equal(t, bracket.ScheduleRescheduled, retired.Status)
	assert.Equal(t, "weather", *retired.ConflictReason)
}

func TestJSONScan(t *testing.T) {
	testCases := []struct {
		name    string
		src     any
		want    []int
		wantErr bool
	}{
		{name: "text", src: "[1,2]", want: []int{1, 2}},
		{name: "bytes", src: []byte("[3]"), want: []int{3}},
		{name: "null", src: nil, want: nil},
		{name: "unsupported", src: 42, wantErr: true},
		{name: "malformed", src: "[1,", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			j := NewJSON([]int{9})
			err := j.Scan(tc.src)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, j.V)
		})
	}
}
