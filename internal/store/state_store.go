package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/padelyzer/tournament-engine/internal/bracket"
)

type matchRow struct {
	bracket.Match
	Team1Sets JSON[[]int] `db:"team1_sets"`
	Team2Sets JSON[[]int] `db:"team2_sets"`
}

type nodeRow struct {
	BracketID uuid.UUID          `db:"bracket_id"`
	Idx       int                `db:"idx"`
	Side      bracket.Side       `db:"side"`
	Round     int                `db:"round"`
	Position  int                `db:"position"`
	Payload   JSON[bracket.Node] `db:"payload"`
}

// LoadState reads everything the engine needs for one tournament.
func (s *Store) LoadState(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) (*bracket.State, error) {
	t, err := s.GetTournament(ctx, q, tournamentID)
	if err != nil {
		return nil, err
	}
	st := &bracket.State{Tournament: t}

	if st.Teams, err = s.GetTeams(ctx, q, tournamentID); err != nil {
		return nil, err
	}
	if st.Courts, err = s.GetCourts(ctx, q, tournamentID); err != nil {
		return nil, err
	}
	if st.Constraints, err = s.GetConstraints(ctx, q, tournamentID); err != nil {
		return nil, err
	}
	if st.Bracket, err = s.getBracket(ctx, q, tournamentID); err != nil {
		return nil, err
	}
	if st.Matches, err = s.GetMatches(ctx, q, tournamentID); err != nil {
		return nil, err
	}
	if st.Schedules, err = s.GetSchedules(ctx, q, tournamentID); err != nil {
		return nil, err
	}

	err = sqlx.SelectContext(ctx, q, &st.Awards,
		q.Rebind("SELECT * FROM prize_awards WHERE tournament_id = ? ORDER BY position ASC"), tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get prize awards: %w", err)
	}
	return st, nil
}

func (s *Store) getBracket(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) (*bracket.Bracket, error) {
	var b bracket.Bracket
	err := sqlx.GetContext(ctx, q, &b, q.Rebind("SELECT * FROM brackets WHERE tournament_id = ?"), tournamentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bracket: %w", err)
	}

	var nodes []nodeRow
	err = sqlx.SelectContext(ctx, q, &nodes, q.Rebind("SELECT * FROM bracket_nodes WHERE bracket_id = ? ORDER BY idx ASC"), b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bracket nodes: %w", err)
	}
	b.Nodes = make([]bracket.Node, len(nodes))
	for i, n := range nodes {
		if n.Idx != i {
			return nil, bracket.Integrityf("bracket %s is missing node %d", b.ID, i)
		}
		b.Nodes[i] = n.Payload.V
	}
	return &b, nil
}

func (s *Store) GetMatches(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) ([]*bracket.Match, error) {
	var rows []matchRow
	query := q.Rebind("SELECT * FROM matches WHERE tournament_id = ? ORDER BY stage ASC, number ASC")
	if err := sqlx.SelectContext(ctx, q, &rows, query, tournamentID); err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}
	out := make([]*bracket.Match, len(rows))
	for i := range rows {
		m := rows[i].Match
		m.Team1Sets, m.Team2Sets = rows[i].Team1Sets.V, rows[i].Team2Sets.V
		out[i] = &m
	}
	return out, nil
}

// GetSchedules returns every schedule row of the tournament, retired ones
// included, oldest first.
func (s *Store) GetSchedules(ctx context.Context, q sqlx.ExtContext, tournamentID uuid.UUID) ([]*bracket.MatchSchedule, error) {
	var out []*bracket.MatchSchedule
	query := q.Rebind("SELECT * FROM match_schedules WHERE tournament_id = ? ORDER BY created_at ASC, starts_at ASC, id ASC")
	if err := sqlx.SelectContext(ctx, q, &out, query, tournamentID); err != nil {
		return nil, fmt.Errorf("failed to get schedules: %w", err)
	}
	return out, nil
}

const (
	upsertBracket = `INSERT INTO brackets (id, tournament_id, format, size, rounds, losers_rounds, current_round, seeding_method, finalized, created_at)
	VALUES (:id, :tournament_id, :format, :size, :rounds, :losers_rounds, :current_round, :seeding_method, :finalized, :created_at)
	ON CONFLICT (id) DO UPDATE SET current_round = excluded.current_round, finalized = excluded.finalized`

	upsertNode = `INSERT INTO bracket_nodes (bracket_id, idx, side, round, position, payload)
	VALUES (:bracket_id, :idx, :side, :round, :position, :payload)
	ON CONFLICT (bracket_id, idx) DO UPDATE SET payload = excluded.payload`

	upsertMatch = `INSERT INTO matches (id, tournament_id, node_index, side, round, stage, number, team1_id, team2_id, status, team1_sets, team2_sets, winner_id, priority, created_at)
	VALUES (:id, :tournament_id, :node_index, :side, :round, :stage, :number, :team1_id, :team2_id, :status, :team1_sets, :team2_sets, :winner_id, :priority, :created_at)
	ON CONFLICT (id) DO UPDATE SET status = excluded.status, team1_sets = excluded.team1_sets, team2_sets = excluded.team2_sets,
		winner_id = excluded.winner_id, priority = excluded.priority`

	upsertSchedule = `INSERT INTO match_schedules (id, tournament_id, match_id, court_id, starts_at, duration, status, priority, conflict_reason, created_at)
	VALUES (:id, :tournament_id, :match_id, :court_id, :starts_at, :duration, :status, :priority, :conflict_reason, :created_at)
	ON CONFLICT (id) DO UPDATE SET status = excluded.status, priority = excluded.priority, conflict_reason = excluded.conflict_reason`

	upsertAward = `INSERT INTO prize_awards (tournament_id, position, team_id, description)
	VALUES (:tournament_id, :position, :team_id, :description)
	ON CONFLICT (tournament_id, position) DO UPDATE SET team_id = excluded.team_id, description = excluded.description`
)

// SaveState writes st back inside tx. Courts and constraints are
// registration input and are saved separately. A second active schedule on
// the same court and start fails with bracket.ErrSlotTaken.
func (s *Store) SaveState(ctx context.Context, tx *sqlx.Tx, st *bracket.State) error {
	if st.Tournament == nil {
		return bracket.Validationf("state has no tournament")
	}
	if err := s.saveTournament(ctx, tx, st.Tournament); err != nil {
		return err
	}
	if err := s.SaveTeams(ctx, tx, st.Teams); err != nil {
		return err
	}
	if err := s.saveBracket(ctx, tx, st.Bracket); err != nil {
		return err
	}
	for _, m := range st.Matches {
		row := matchRow{Match: *m, Team1Sets: NewJSON(m.Team1Sets), Team2Sets: NewJSON(m.Team2Sets)}
		row.CreatedAt = stamp(row.CreatedAt)
		if _, err := tx.NamedExecContext(ctx, upsertMatch, row); err != nil {
			return fmt.Errorf("failed to save match %s: %w", m.ID, err)
		}
	}
	if err := s.saveSchedules(ctx, tx, st.Schedules); err != nil {
		return err
	}
	for _, a := range st.Awards {
		if _, err := tx.NamedExecContext(ctx, upsertAward, a); err != nil {
			return fmt.Errorf("failed to save prize award %d: %w", a.Position, err)
		}
	}
	return nil
}

func (s *Store) saveBracket(ctx context.Context, tx *sqlx.Tx, b *bracket.Bracket) error {
	if b == nil {
		return nil
	}
	row := *b
	row.CreatedAt = stamp(row.CreatedAt)
	if _, err := tx.NamedExecContext(ctx, upsertBracket, row); err != nil {
		return fmt.Errorf("failed to save bracket %s: %w", b.ID, err)
	}
	for i, n := range b.Nodes {
		row := nodeRow{BracketID: b.ID, Idx: i, Side: n.Side, Round: n.Round, Position: n.Position, Payload: NewJSON(n)}
		if _, err := tx.NamedExecContext(ctx, upsertNode, row); err != nil {
			return fmt.Errorf("failed to save bracket node %d: %w", i, err)
		}
	}
	return nil
}

// saveSchedules writes retired rows before active ones so a slot freed in
// this transaction can be taken again by a new row.
func (s *Store) saveSchedules(ctx context.Context, tx *sqlx.Tx, schedules []*bracket.MatchSchedule) error {
	for _, pass := range []bool{false, true} {
		for _, sc := range schedules {
			if sc.IsActive() != pass {
				continue
			}
			row := *sc
			row.StartsAt, row.CreatedAt = row.StartsAt.UTC(), stamp(row.CreatedAt)
			if _, err := tx.NamedExecContext(ctx, upsertSchedule, row); err != nil {
				if uniqueViolation(err) {
					return fmt.Errorf("%w: court %s at %s", bracket.ErrSlotTaken, sc.CourtID, sc.StartsAt.UTC().Format("2006-01-02 15:04"))
				}
				return fmt.Errorf("failed to save schedule %s: %w", sc.ID, err)
			}
		}
	}
	return nil
}
