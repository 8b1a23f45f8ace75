package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	tournaments []*bracket.Tournament
	err         error
	asked       []bracket.TournamentStatus
}

func (f *fakeLister) ListTournaments(ctx context.Context, status ...bracket.TournamentStatus) ([]*bracket.Tournament, error) {
	f.asked = status
	return f.tournaments, f.err
}

type fakeConfirmer struct {
	counts   map[uuid.UUID]int
	failing  uuid.UUID
	horizons []time.Duration
}

func (f *fakeConfirmer) ConfirmUpcoming(ctx context.Context, id uuid.UUID, horizon time.Duration) (int, error) {
	f.horizons = append(f.horizons, horizon)
	if id == f.failing {
		return 0, errors.New("database is locked")
	}
	return f.counts[id], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunNowConfirmsEveryRunningTournament(t *testing.T) {
	a, b, broken := uuid.New(), uuid.New(), uuid.New()
	lister := &fakeLister{tournaments: []*bracket.Tournament{{ID: a}, {ID: broken}, {ID: b}}}
	confirmer := &fakeConfirmer{counts: map[uuid.UUID]int{a: 2, b: 3}, failing: broken}

	s := NewScheduler("0 */15 * * * *", 48*time.Hour, lister, confirmer, quietLogger())
	n, err := s.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, []bracket.TournamentStatus{bracket.TournamentInProgress}, lister.asked)
	assert.Equal(t, []time.Duration{48 * time.Hour, 48 * time.Hour, 48 * time.Hour}, confirmer.horizons)
}

func TestRunNowReportsListFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	s := NewScheduler("0 */15 * * * *", time.Hour, lister, &fakeConfirmer{}, quietLogger())

	_, err := s.RunNow(context.Background())
	require.Error(t, err)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler("every now and then", time.Hour, &fakeLister{}, &fakeConfirmer{}, quietLogger())
	require.ErrorIs(t, s.Start(), bracket.ErrValidation)

	ok := NewScheduler("0 0 * * * *", time.Hour, &fakeLister{}, &fakeConfirmer{}, quietLogger())
	require.NoError(t, ok.Start())
	ok.Stop()
}
