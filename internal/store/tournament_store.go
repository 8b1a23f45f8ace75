package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/padelyzer/tournament-engine/internal/bracket"
)

type tournamentRow struct {
	bracket.Tournament
	Prizes JSON[[]bracket.Prize] `db:"prizes"`
}

func (r *tournamentRow) decode() *bracket.Tournament {
	t := r.Tournament
	t.Prizes = r.Prizes.V
	return &t
}

type teamRow struct {
	bracket.Team
	Roster JSON[[]bracket.Player] `db:"roster"`
}

func (r *teamRow) decode() *bracket.Team {
	t := r.Team
	t.Roster = r.Roster.V
	return &t
}

type courtRow struct {
	bracket.Court
	TournamentID uuid.UUID                 `db:"tournament_id"`
	Unavailable  JSON[[]bracket.TimeWindow] `db:"unavailable"`
}

func (r *courtRow) decode() *bracket.Court {
	c := r.Court
	c.Unavailable = r.Unavailable.V
	return &c
}

type constraintRow struct {
	bracket.ScheduleConstraint
	Params string `db:"params"`
}

const upsertTournament = `INSERT INTO tournaments (id, name, format, status, total_rounds, start_date, end_date, max_teams, seeding_method, prizes, created_at)
	VALUES (:id, :name, :format, :status, :total_rounds, :start_date, :end_date, :max_teams, :seeding_method, :prizes, :created_at)
	ON CONFLICT (id) DO UPDATE SET name = excluded.name, status = excluded.status, total_rounds = excluded.total_rounds,
		start_date = excluded.start_date, end_date = excluded.end_date, max_teams = excluded.max_teams,
		seeding_method = excluded.seeding_method, prizes = excluded.prizes`

func (s *Store) CreateTournament(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) error {
	return s.saveTournament(ctx, tx, t)
}

func (s *Store) saveTournament(ctx context.Context, tx *sqlx.Tx, t *bracket.Tournament) error {
	row := tournamentRow{Tournament: *t, Prizes: NewJSON(t.Prizes)}
	row.StartDate, row.EndDate, row.CreatedAt = row.StartDate.UTC(), row.EndDate.UTC(), stamp(row.CreatedAt)
	if _, err := tx.NamedExecContext(ctx, upsertTournament, row); err != nil {
		return fmt.Errorf("failed to save tournament %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetTournament(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*bracket.Tournament, error) {
	var row tournamentRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind("SELECT * FROM tournaments WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "tournament %s", id)
	}
	return row.decode(), nil
}

func (s *Store) ListTournaments(ctx context.Context, status ...bracket.TournamentStatus) ([]*bracket.Tournament, error) {
	query := "SELECT * FROM tournaments ORDER BY created_at DESC"
	var args []any
	if len(status) > 0 {
		var err error
		query, args, err = sqlx.In("SELECT * FROM tournaments WHERE status IN (?) ORDER BY created_at DESC", status)
		if err != nil {
			return nil, err
		}
	}
	var rows []tournamentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	out := make([]*bracket.Tournament, len(rows))
	for i := range rows {
		out[i] = rows[i].decode()
	}
	return out, nil
}

const upsertTeam = `INSERT INTO teams (id, tournament_id, name, rating, seed, status, region, club_id, lat, lng, preferred_hour, roster, registered_at)
	VALUES (:id, :tournament_id, :name, :rating, :seed, :status, :region, :club_id, :lat, :lng, :preferred_hour, :roster, :registered_at)
	ON CONFLICT (id) DO UPDATE SET name = excluded.name, rating = excluded.rating, seed = excluded.seed, status = excluded.status,
		region = excluded.region, club_id = excluded.club_id, lat = excluded.lat, lng = excluded.lng,
		preferred_hour = excluded.preferred_hour, roster = excluded.roster`

// SaveTeams inserts or updates registration snapshots.
func (s *Store) SaveTeams(ctx context.Context, tx *sqlx.Tx, teams []*bracket.Team) error {
	for _, t := range teams {
		row := teamRow{Team: *t, Roster: NewJSON(t.Roster)}
		row.RegisteredAt = stamp(row.RegisteredAt)
		if _, err := tx.NamedExecContext(ctx, upsertTeam, row); err != nil {
			return fmt.Errorf("failed to save team %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) GetTeams(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) ([]*bracket.Team, error) {
	var rows []teamRow
	query := q.Rebind("SELECT * FROM teams WHERE tournament_id = ? ORDER BY registered_at ASC, name ASC")
	if err := sqlx.SelectContext(ctx, q, &rows, query, tournamentID); err != nil {
		return nil, fmt.Errorf("failed to get teams: %w", err)
	}
	out := make([]*bracket.Team, len(rows))
	for i := range rows {
		out[i] = rows[i].decode()
	}
	return out, nil
}

const upsertCourt = `INSERT INTO courts (id, tournament_id, club_id, name, lat, lng, capacity, outdoor, center, unavailable)
	VALUES (:id, :tournament_id, :club_id, :name, :lat, :lng, :capacity, :outdoor, :center, :unavailable)
	ON CONFLICT (id) DO UPDATE SET club_id = excluded.club_id, name = excluded.name, lat = excluded.lat, lng = excluded.lng,
		capacity = excluded.capacity, outdoor = excluded.outdoor, center = excluded.center, unavailable = excluded.unavailable`

// SaveCourts stores the facility snapshot the tournament schedules on.
func (s *Store) SaveCourts(ctx context.Context, tx *sqlx.Tx, tournamentID uuid.UUID, courts []*bracket.Court) error {
	for _, c := range courts {
		row := courtRow{Court: *c, TournamentID: tournamentID, Unavailable: NewJSON(c.Unavailable)}
		if _, err := tx.NamedExecContext(ctx, upsertCourt, row); err != nil {
			return fmt.Errorf("failed to save court %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) GetCourts(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) ([]*bracket.Court, error) {
	var rows []courtRow
	query := q.Rebind("SELECT * FROM courts WHERE tournament_id = ? ORDER BY name ASC, id ASC")
	if err := sqlx.SelectContext(ctx, q, &rows, query, tournamentID); err != nil {
		return nil, fmt.Errorf("failed to get courts: %w", err)
	}
	out := make([]*bracket.Court, len(rows))
	for i := range rows {
		out[i] = rows[i].decode()
	}
	return out, nil
}

const upsertConstraint = `INSERT INTO schedule_constraints (id, tournament_id, type, params, priority, active)
	VALUES (:id, :tournament_id, :type, :params, :priority, :active)
	ON CONFLICT (id) DO UPDATE SET type = excluded.type, params = excluded.params, priority = excluded.priority, active = excluded.active`

func (s *Store) SaveConstraints(ctx context.Context, tx *sqlx.Tx, cs []bracket.ScheduleConstraint) error {
	for _, c := range cs {
		params := string(c.Params)
		if params == "" {
			params = "{}"
		}
		if _, err := tx.NamedExecContext(ctx, upsertConstraint, constraintRow{ScheduleConstraint: c, Params: params}); err != nil {
			return fmt.Errorf("failed to save constraint %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) GetConstraints(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) ([]bracket.ScheduleConstraint, error) {
	var rows []constraintRow
	query := q.Rebind("SELECT * FROM schedule_constraints WHERE tournament_id = ? ORDER BY type ASC, id ASC")
	if err := sqlx.SelectContext(ctx, q, &rows, query, tournamentID); err != nil {
		return nil, fmt.Errorf("failed to get constraints: %w", err)
	}
	out := make([]bracket.ScheduleConstraint, len(rows))
	for i, r := range rows {
		out[i] = r.ScheduleConstraint
		out[i].Params = json.RawMessage(r.Params)
	}
	return out, nil
}
