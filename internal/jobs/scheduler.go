// Package jobs runs periodic maintenance over running tournaments.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/robfig/cron/v3"
)

type TournamentLister interface {
	ListTournaments(ctx context.Context, status ...bracket.TournamentStatus) ([]*bracket.Tournament, error)
}

type Confirmer interface {
	ConfirmUpcoming(ctx context.Context, tournamentID uuid.UUID, horizon time.Duration) (int, error)
}

type Scheduler struct {
	cron      *cron.Cron
	spec      string
	horizon   time.Duration
	lister    TournamentLister
	confirmer Confirmer
	logger    *slog.Logger
}

// NewScheduler confirms tentative slots of running tournaments that start
// within horizon, on the given six-field cron spec.
func NewScheduler(spec string, horizon time.Duration, lister TournamentLister, confirmer Confirmer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	return &Scheduler{
		cron:      c,
		spec:      spec,
		horizon:   horizon,
		lister:    lister,
		confirmer: confirmer,
		logger:    logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runConfirm); err != nil {
		return bracket.Validationf("invalid confirm schedule %q: %v", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("job scheduler started", "confirm_cron", s.spec, "horizon", s.horizon)
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) runConfirm() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("confirm job failed", "error", err)
	}
}

// RunNow confirms upcoming slots once and returns how many were confirmed.
// A failing tournament does not stop the others.
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	tournaments, err := s.lister.ListTournaments(ctx, bracket.TournamentInProgress)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, t := range tournaments {
		n, err := s.confirmer.ConfirmUpcoming(ctx, t.ID, s.horizon)
		if err != nil {
			s.logger.Warn("failed to confirm schedules", "tournament_id", t.ID, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("confirm job finished", "tournaments", len(tournaments), "confirmed", total)
	}
	return total, nil
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
