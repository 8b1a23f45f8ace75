package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/db"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/progression"
	"github.com/padelyzer/tournament-engine/internal/reschedule"
	"github.com/padelyzer/tournament-engine/internal/schedule"
	"github.com/padelyzer/tournament-engine/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(typ notify.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type services struct {
	tournaments *TournamentService
	matches     *MatchService
	reschedules *RescheduleService
	events      *recorder
}

func setup(t *testing.T) *services {
	t.Helper()
	ctx := context.Background()
	database, err := db.Connect(ctx, db.SQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database, "file://../../migrations"))

	cfg := schedule.DefaultConfig()
	cfg.LocalSearchIterations = 20
	events := &recorder{}
	d := Deps{
		DB:        database,
		Locks:     NewLocker(),
		Publisher: events,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Schedule:  cfg,
		MaxTeams:  64,
		Now:       func() time.Time { return now },
	}
	return &services{
		tournaments: NewTournamentService(d),
		matches:     NewMatchService(d),
		reschedules: NewRescheduleService(d),
		events:      events,
	}
}

// openTournament creates a tournament with confirmed teams and two courts,
// ready to start.
func openTournament(t *testing.T, s *services, f bracket.Format, teams int) *bracket.Tournament {
	t.Helper()
	ctx := context.Background()
	tour, err := s.tournaments.CreateTournament(ctx, bracket.Tournament{
		Name:      "Summer Open",
		Format:    f,
		StartDate: time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 7, 22, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var regs []*bracket.Team
	for i := 0; i < teams; i++ {
		regs = append(regs, &bracket.Team{
			Name:         string(rune('A'+i)) + " team",
			Rating:       float64(10 - i),
			Status:       bracket.RegistrationConfirmed,
			RegisteredAt: now.Add(time.Duration(i) * time.Minute),
		})
	}
	_, err = s.tournaments.Register(ctx, tour.ID, regs)
	require.NoError(t, err)
	require.NoError(t, s.tournaments.SetFacility(ctx, tour.ID, Facility{Courts: []*bracket.Court{
		{Name: "Court 1", ClubID: uuid.New(), Capacity: 100},
		{Name: "Court 2", ClubID: uuid.New(), Capacity: 50},
	}}))

	for _, to := range []bracket.TournamentStatus{bracket.TournamentPublished, bracket.TournamentRegistrationOpen, bracket.TournamentRegistrationClosed} {
		_, err := s.tournaments.Transition(ctx, tour.ID, to)
		require.NoError(t, err)
	}
	return tour
}

func startTournament(t *testing.T, s *services, f bracket.Format, teams int) (*bracket.Tournament, *StartResult) {
	t.Helper()
	tour := openTournament(t, s, f, teams)
	res, err := s.tournaments.Start(context.Background(), tour.ID, StartOptions{})
	require.NoError(t, err)
	return tour, res
}

func assertNoDoubleBooking(t *testing.T, st *bracket.State) {
	t.Helper()
	active := st.ActiveSchedules()
	perMatch := make(map[uuid.UUID]int)
	for i, a := range active {
		perMatch[a.MatchID]++
		for _, b := range active[i+1:] {
			assert.False(t, a.Overlaps(b.CourtID, b.StartsAt, b.EndsAt()), "schedules %s and %s overlap", a.ID, b.ID)
		}
	}
	for id, n := range perMatch {
		assert.Equal(t, 1, n, "match %s holds %d slots", id, n)
	}
}

// win records a straight-sets win for team 1.
func win(m *bracket.Match) progression.Result {
	return progression.Result{MatchID: m.ID, Winner: m.Team1, Team1Sets: []int{6, 6}, Team2Sets: []int{3, 4}}
}

func TestCreateTournament(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	testCases := []struct {
		name    string
		in      bracket.Tournament
		wantErr bool
	}{
		{
			name: "defaults applied",
			in: bracket.Tournament{Name: "Club Cup", Format: bracket.RoundRobin,
				StartDate: now, EndDate: now.Add(72 * time.Hour)},
		},
		{
			name:    "missing name",
			in:      bracket.Tournament{Format: bracket.Swiss, StartDate: now, EndDate: now.Add(time.Hour)},
			wantErr: true,
		},
		{
			name: "field above limit",
			in: bracket.Tournament{Name: "Mega", Format: bracket.Swiss, MaxTeams: 512,
				StartDate: now, EndDate: now.Add(time.Hour)},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.tournaments.CreateTournament(ctx, tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, bracket.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, got.ID)
			assert.Equal(t, bracket.TournamentDraft, got.Status)
			assert.Equal(t, 64, got.MaxTeams)
			assert.Equal(t, bracket.SeedByRating, got.SeedingMethod)

			stored, err := s.tournaments.GetTournament(ctx, got.ID)
			require.NoError(t, err)
			assert.Equal(t, got.Name, stored.Name)
		})
	}
}

func TestRegisterRejectsOverfullField(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, err := s.tournaments.CreateTournament(ctx, bracket.Tournament{
		Name: "Tiny", Format: bracket.SingleElimination, MaxTeams: 2,
		StartDate: now, EndDate: now.Add(48 * time.Hour),
	})
	require.NoError(t, err)

	_, err = s.tournaments.Register(ctx, tour.ID, []*bracket.Team{
		{Name: "A", Status: bracket.RegistrationConfirmed},
		{Name: "B", Status: bracket.RegistrationConfirmed},
		{Name: "C", Status: bracket.RegistrationConfirmed},
	})
	require.ErrorIs(t, err, bracket.ErrValidation)

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	assert.Empty(t, st.Teams)

	teams, err := s.tournaments.Register(ctx, tour.ID, []*bracket.Team{
		{Name: "A", Status: bracket.RegistrationConfirmed},
		{Name: "B", Status: bracket.RegistrationConfirmed},
		{Name: "C"},
	})
	require.NoError(t, err)
	require.Len(t, teams, 3)
	assert.Equal(t, bracket.RegistrationPending, teams[2].Status)
}

func TestSetFacilityRejectsBadConstraint(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour := openTournament(t, s, bracket.SingleElimination, 4)

	err := s.tournaments.SetFacility(ctx, tour.ID, Facility{Constraints: []bracket.ScheduleConstraint{
		{Type: "moon_phase", Priority: bracket.PriorityLow, Active: true},
	}})
	require.ErrorIs(t, err, bracket.ErrValidation)
}

func TestStartPreconditions(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	tour, err := s.tournaments.CreateTournament(ctx, bracket.Tournament{
		Name: "Early", Format: bracket.SingleElimination,
		StartDate: now, EndDate: now.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, s.tournaments.SetFacility(ctx, tour.ID, Facility{Courts: []*bracket.Court{{Name: "Court 1"}}}))

	_, err = s.tournaments.Start(ctx, tour.ID, StartOptions{})
	require.ErrorIs(t, err, bracket.ErrValidation)

	_, err = s.tournaments.Transition(ctx, tour.ID, bracket.TournamentInProgress)
	require.ErrorIs(t, err, bracket.ErrValidation)

	_, err = s.tournaments.Start(ctx, uuid.New(), StartOptions{})
	require.ErrorIs(t, err, bracket.ErrNotFound)
}

func TestSingleEliminationLifecycle(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, started := startTournament(t, s, bracket.SingleElimination, 4)

	assert.Equal(t, bracket.TournamentInProgress, started.Tournament.Status)
	assert.Equal(t, 4, started.View.Size)
	require.Len(t, started.Schedule.Schedules, 2)
	assert.Empty(t, started.Schedule.Unscheduled)
	assert.Equal(t, 1, s.events.count(notify.BracketUpdated))

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, st.Matches, 2)
	assertNoDoubleBooking(t, st)

	var semisEnd time.Time
	for _, sc := range st.ActiveSchedules() {
		if sc.EndsAt().After(semisEnd) {
			semisEnd = sc.EndsAt()
		}
	}

	first, err := s.matches.RecordResult(ctx, tour.ID, win(st.Matches[0]))
	require.NoError(t, err)
	assert.Empty(t, first.NewMatches)
	assert.False(t, first.Completed)

	second, err := s.matches.RecordResult(ctx, tour.ID, win(st.Matches[1]))
	require.NoError(t, err)
	require.Len(t, second.NewMatches, 1)
	require.NotNil(t, second.Schedule)
	require.Len(t, second.Schedule.Schedules, 1)
	final := second.NewMatches[0]
	assert.False(t, second.Schedule.Schedules[0].StartsAt.Before(semisEnd))
	assert.ElementsMatch(t, []uuid.UUID{st.Matches[0].Team1, st.Matches[1].Team1}, []uuid.UUID{final.Team1, final.Team2})

	done, err := s.matches.RecordResult(ctx, tour.ID, win(final))
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Equal(t, bracket.TournamentCompleted, done.Tournament.Status)
	require.NotEmpty(t, done.Standings)
	assert.Equal(t, final.Team1, done.Standings[0].TeamID)
	assert.Equal(t, 1, s.events.count(notify.TournamentCompleted))

	stored, err := s.tournaments.GetTournament(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, stored.Status)

	standings, err := s.tournaments.Standings(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Team1, standings[0].TeamID)
}

func TestRoundRobinSchedulesEveryMatch(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, started := startTournament(t, s, bracket.RoundRobin, 4)

	assert.Empty(t, started.Schedule.Unscheduled)
	assert.Len(t, started.Schedule.Schedules, 6)

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	assert.Len(t, st.Matches, 6)
	assertNoDoubleBooking(t, st)

	report, err := s.tournaments.ScheduleReport(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Matches)
}

func TestRecordResultTwiceIsRejected(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.SingleElimination, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.matches.RecordResult(ctx, tour.ID, win(m))
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, bracket.ErrIntegrity)
		}
	}
	assert.Equal(t, 1, failed)

	stored, _, err := s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchCompleted, stored.Status)
	assert.Equal(t, m.Team1, *stored.Winner)
}

func TestRecordResultValidation(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.SingleElimination, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]

	testCases := []struct {
		name   string
		result progression.Result
		want   error
	}{
		{name: "unknown match", result: progression.Result{MatchID: uuid.New(), Winner: m.Team1, Team1Sets: []int{6}, Team2Sets: []int{2}}, want: bracket.ErrNotFound},
		{name: "outsider wins", result: progression.Result{MatchID: m.ID, Winner: uuid.New(), Team1Sets: []int{6}, Team2Sets: []int{2}}, want: bracket.ErrValidation},
		{name: "score disagrees", result: progression.Result{MatchID: m.ID, Winner: m.Team1, Team1Sets: []int{2}, Team2Sets: []int{6}}, want: bracket.ErrValidation},
		{name: "no sets", result: progression.Result{MatchID: m.ID, Winner: m.Team1}, want: bracket.ErrValidation},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.matches.RecordResult(ctx, tour.ID, tc.result)
			require.ErrorIs(t, err, tc.want)
		})
	}

	stored, _, err := s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchScheduled, stored.Status)
}

func TestWalkoverReleasesFutureSlot(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.SingleElimination, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]

	upd, err := s.matches.RecordWalkover(ctx, tour.ID, m.ID, m.Team2)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchWalkover, upd.Match.Status)

	stored, sc, err := s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Team2, *stored.Winner)
	assert.Nil(t, sc)
}

func TestPostponeThenMakeup(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.SingleElimination, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]

	_, err = s.matches.Postpone(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	stored, sc, err := s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchPostponed, stored.Status)
	assert.Nil(t, sc)

	out, err := s.reschedules.AddMakeupMatches(ctx, tour.ID, nil)
	require.NoError(t, err)
	require.Len(t, out.Moved, 1)
	assert.Equal(t, m.ID, out.Moved[0].MatchID)

	_, sc, err = s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	require.NotNil(t, sc)

	st, err = s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	assertNoDoubleBooking(t, st)
	assert.Len(t, st.Schedules, 3)
}

func TestCancelMatchRetiresSlot(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.RoundRobin, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]

	upd, err := s.matches.Cancel(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchCancelled, upd.Match.Status)

	_, sc, err := s.matches.GetMatch(ctx, tour.ID, m.ID)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestConfirmUpcoming(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.RoundRobin, 4)
	horizon := 24 * time.Hour

	upcoming, err := s.tournaments.Upcoming(ctx, tour.ID, horizon)
	require.NoError(t, err)

	n, err := s.matches.ConfirmUpcoming(ctx, tour.ID, horizon)
	require.NoError(t, err)
	assert.Equal(t, len(upcoming), n)

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	until := now.Add(horizon)
	for _, sc := range st.ActiveSchedules() {
		if sc.StartsAt.Before(until) {
			assert.Equal(t, bracket.ScheduleConfirmed, sc.Status)
		} else {
			assert.Equal(t, bracket.ScheduleTentative, sc.Status)
		}
	}

	again, err := s.matches.ConfirmUpcoming(ctx, tour.ID, horizon)
	require.NoError(t, err)
	assert.Zero(t, again)

	_, err = s.matches.ConfirmUpcoming(ctx, tour.ID, 0)
	require.ErrorIs(t, err, bracket.ErrValidation)
}

func TestRescheduleMatchPersists(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.RoundRobin, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	m := st.Matches[0]
	before, ok := st.ActiveSchedule(m.ID)
	require.True(t, ok)

	out, err := s.reschedules.RescheduleMatch(ctx, tour.ID, m.ID, reschedule.Reason{Kind: reschedule.ReasonTeamRequest, Priority: bracket.PriorityLow}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, out.Moved)
	assert.Equal(t, m.ID, out.Moved[0].MatchID)

	st, err = s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	after, ok := st.ActiveSchedule(m.ID)
	require.True(t, ok)
	assert.NotEqual(t, before.ID, after.ID)
	assertNoDoubleBooking(t, st)

	for _, sc := range st.Schedules {
		if sc.ID == before.ID {
			assert.Equal(t, bracket.ScheduleRescheduled, sc.Status)
		}
	}
	assert.GreaterOrEqual(t, s.events.count(notify.ScheduleUpdated), 2)
}

func TestRescheduleRequiresRunningTournament(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour := openTournament(t, s, bracket.SingleElimination, 4)

	_, err := s.reschedules.CompressSchedule(ctx, tour.ID, tour.EndDate.Add(-24*time.Hour))
	require.ErrorIs(t, err, bracket.ErrValidation)
}

var withdrawal = reschedule.Reason{Kind: reschedule.ReasonWithdrawal, Priority: bracket.PriorityHigh}

func TestTeamWithdrawalStillCompletesRoundRobin(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.RoundRobin, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	team := st.Teams[0]

	out, err := s.reschedules.HandleTeamWithdrawal(ctx, tour.ID, team.ID, withdrawal)
	require.NoError(t, err)
	assert.Len(t, out.Forfeited, 3)
	assert.Zero(t, s.events.count(notify.ManualActionNeeded))

	st, err = s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	for _, m := range st.TeamMatches(team.ID) {
		assert.Equal(t, bracket.MatchCancelled, m.Status)
		_, ok := st.ActiveSchedule(m.ID)
		assert.False(t, ok)
	}

	var last *MatchUpdate
	for _, m := range st.Matches {
		if m.IsSettled() {
			continue
		}
		last, err = s.matches.RecordResult(ctx, tour.ID, win(m))
		require.NoError(t, err)
	}
	require.NotNil(t, last)
	assert.True(t, last.Completed)
	assert.Equal(t, 1, s.events.count(notify.TournamentCompleted))
}

func TestTeamWithdrawalPairsNextSwissRound(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.Swiss, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	require.Len(t, st.Matches, 2)
	played, open := st.Matches[0], st.Matches[1]

	_, err = s.matches.RecordResult(ctx, tour.ID, win(played))
	require.NoError(t, err)

	out, err := s.reschedules.HandleTeamWithdrawal(ctx, tour.ID, open.Team1, withdrawal)
	require.NoError(t, err)
	require.Len(t, out.NewMatches, 1)
	next := out.NewMatches[0]
	assert.Equal(t, 2, next.Round)
	assert.Empty(t, out.Failed)

	m, sc, err := s.matches.GetMatch(ctx, tour.ID, next.ID)
	require.NoError(t, err)
	assert.False(t, m.HasTeam(open.Team1))
	require.NotNil(t, sc, "the new round is booked")

	done, err := s.matches.RecordResult(ctx, tour.ID, win(m))
	require.NoError(t, err)
	assert.True(t, done.Completed)

	st, err = s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCompleted, st.Tournament.Status)
	assertNoDoubleBooking(t, st)
}

func TestTeamWithdrawalInKnockoutGivesWalkover(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.SingleElimination, 4)
	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	semi, other := st.Matches[0], st.Matches[1]

	out, err := s.reschedules.HandleTeamWithdrawal(ctx, tour.ID, semi.Team1, withdrawal)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{semi.ID}, out.Forfeited)

	m, sc, err := s.matches.GetMatch(ctx, tour.ID, semi.ID)
	require.NoError(t, err)
	assert.Equal(t, bracket.MatchWalkover, m.Status)
	assert.Equal(t, semi.Team2, *m.Winner)
	assert.Nil(t, sc)

	upd, err := s.matches.RecordResult(ctx, tour.ID, win(other))
	require.NoError(t, err)
	require.Len(t, upd.NewMatches, 1)
	final := upd.NewMatches[0]
	assert.True(t, final.HasTeam(semi.Team2))
	require.NotNil(t, upd.Schedule)
	assert.Len(t, upd.Schedule.Schedules, 1)

	done, err := s.matches.RecordResult(ctx, tour.ID, win(final))
	require.NoError(t, err)
	assert.True(t, done.Completed)
}

func TestCancelTournamentReleasesSlots(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, _ := startTournament(t, s, bracket.RoundRobin, 4)

	got, err := s.tournaments.Transition(ctx, tour.ID, bracket.TournamentCancelled)
	require.NoError(t, err)
	assert.Equal(t, bracket.TournamentCancelled, got.Status)

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	assert.Empty(t, st.ActiveSchedules())
	assert.Len(t, st.Schedules, 6)
}

func TestGeographicTournamentUsesLocationClusters(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	tour, err := s.tournaments.CreateTournament(ctx, bracket.Tournament{
		Name:          "Inter-city Cup",
		Format:        bracket.RoundRobin,
		SeedingMethod: bracket.SeedByGeographic,
		StartDate:     time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 7, 22, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	madrid := bracket.Location{Lat: 40.4168, Lng: -3.7038}
	barcelona := bracket.Location{Lat: 41.3874, Lng: 2.1686}
	team := func(name string, rating float64, at bracket.Location, offset float64) *bracket.Team {
		return &bracket.Team{
			Name:         name,
			Rating:       rating,
			Status:       bracket.RegistrationConfirmed,
			Lat:          utils.Ptr(at.Lat + offset),
			Lng:          utils.Ptr(at.Lng + offset),
			RegisteredAt: now,
		}
	}
	_, err = s.tournaments.Register(ctx, tour.ID, []*bracket.Team{
		team("Madrid A", 10, madrid, 0.01),
		team("Barcelona A", 9, barcelona, 0.01),
		team("Barcelona B", 8, barcelona, -0.01),
		team("Madrid B", 7, madrid, -0.01),
	})
	require.NoError(t, err)

	madridClub, barcelonaClub := uuid.New(), uuid.New()
	require.NoError(t, s.tournaments.SetFacility(ctx, tour.ID, Facility{Courts: []*bracket.Court{
		{Name: "Madrid 1", ClubID: madridClub, Lat: madrid.Lat, Lng: madrid.Lng},
		{Name: "Barcelona 1", ClubID: barcelonaClub, Lat: barcelona.Lat, Lng: barcelona.Lng},
	}}))
	for _, to := range []bracket.TournamentStatus{bracket.TournamentPublished, bracket.TournamentRegistrationOpen, bracket.TournamentRegistrationClosed} {
		_, err := s.tournaments.Transition(ctx, tour.ID, to)
		require.NoError(t, err)
	}
	_, err = s.tournaments.Start(ctx, tour.ID, StartOptions{})
	require.NoError(t, err)

	st, err := s.tournaments.State(ctx, tour.ID)
	require.NoError(t, err)
	city := make(map[uuid.UUID]string)
	seeds := make(map[string]int)
	for _, tm := range st.Teams {
		city[tm.ID] = tm.Name[:len(tm.Name)-2]
		seeds[tm.Name] = tm.Seed
	}
	// clusters interleave the cities even though the ratings alternate
	assert.Equal(t, map[string]int{"Madrid A": 1, "Barcelona A": 2, "Madrid B": 3, "Barcelona B": 4}, seeds)

	clubOf := map[string]uuid.UUID{"Madrid": madridClub, "Barcelona": barcelonaClub}
	local := 0
	for _, m := range st.Matches {
		if city[m.Team1] != city[m.Team2] {
			continue
		}
		local++
		sc, ok := st.ActiveSchedule(m.ID)
		require.True(t, ok)
		c, ok := st.Court(sc.CourtID)
		require.True(t, ok)
		assert.Equal(t, clubOf[city[m.Team1]], c.ClubID, "local match played away from its home club")
	}
	assert.Equal(t, 2, local)
}
