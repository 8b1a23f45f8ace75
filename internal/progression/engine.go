// Package progression records match outcomes and keeps the bracket,
// standings and tournament status consistent with them.
//
// Every operation takes the current State and returns a new one in the
// Outcome; the input is never modified, so a failed call leaves nothing
// half written.
package progression

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/format"
	"github.com/padelyzer/tournament-engine/internal/seeding"
)

type Engine struct {
	formatOpts format.Options
	logger     *slog.Logger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithFormatOptions(opts format.Options) Option {
	return func(e *Engine) { e.formatOpts = opts }
}

func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

type Result struct {
	MatchID   uuid.UUID `json:"match_id"`
	Winner    uuid.UUID `json:"winner_id"`
	Team1Sets []int     `json:"team1_sets"`
	Team2Sets []int     `json:"team2_sets"`
}

type Outcome struct {
	State *bracket.State
	// Match is the match the operation acted on, if any.
	Match *bracket.Match
	// NewMatches became playable and still need a court and time.
	NewMatches []*bracket.Match
	// Forfeited were settled without play because a team withdrew.
	Forfeited []*bracket.Match
	Completed  bool
	Standings  []bracket.Standing
	Awards     []bracket.PrizeAward
}

func (e *Engine) strategy(st *bracket.State) (format.Strategy, error) {
	if st.Tournament == nil {
		return nil, bracket.Validationf("state has no tournament")
	}
	return format.New(st.Tournament.Format, e.formatOpts)
}

// StartTournament seeds the confirmed teams, builds the bracket and moves
// the tournament to in progress.
func (e *Engine) StartTournament(st *bracket.State, seedOpts seeding.Options) (*Outcome, error) {
	strat, err := e.strategy(st)
	if err != nil {
		return nil, err
	}
	if st.Bracket != nil {
		return nil, bracket.Integrityf("tournament %s already has a bracket", st.Tournament.ID)
	}
	if st.Tournament.Status != bracket.TournamentRegistrationClosed {
		return nil, bracket.Validationf("tournament %s must be registration_closed to start, is %s", st.Tournament.ID, st.Tournament.Status)
	}

	seeded, err := seeding.Seed(st.ConfirmedTeams(), st.Tournament.SeedingMethod, seedOpts)
	if err != nil {
		return nil, err
	}
	gen, err := strat.Generate(st.Tournament, seeded)
	if err != nil {
		return nil, err
	}

	next := st.Clone()
	for _, s := range seeded {
		if t, ok := next.Team(s.ID); ok {
			t.Seed = s.Seed
		}
	}
	next.Bracket = gen.Bracket
	next.Matches = gen.Matches
	next.Tournament.TotalRounds = gen.Bracket.Rounds
	if st.Tournament.Format == bracket.DoubleElimination {
		next.Tournament.TotalRounds = 2 * gen.Bracket.Rounds
	}
	if err := next.Tournament.Transition(bracket.TournamentInProgress); err != nil {
		return nil, err
	}

	e.logger.Info("tournament started",
		"tournament_id", st.Tournament.ID,
		"format", st.Tournament.Format,
		"teams", len(seeded),
		"bracket_size", gen.Bracket.Size,
		"matches", len(gen.Matches),
	)
	return &Outcome{State: next, NewMatches: gen.Matches}, nil
}

func (e *Engine) StartMatch(st *bracket.State, matchID uuid.UUID) (*Outcome, error) {
	next, m, err := e.prepare(st, matchID)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(bracket.MatchInProgress); err != nil {
		return nil, err
	}
	return &Outcome{State: next, Match: m}, nil
}

// RecordResult completes a match and advances the bracket. Recording a
// second result for the same match is rejected without touching the state.
func (e *Engine) RecordResult(st *bracket.State, res Result) (*Outcome, error) {
	if m, ok := st.Match(res.MatchID); ok && m.Winner != nil {
		return nil, bracket.Integrityf("match %s already has a winner", m.ID)
	}
	if len(res.Team1Sets) == 0 {
		return nil, bracket.Validationf("a result needs at least one set")
	}
	next, m, err := e.prepare(st, res.MatchID)
	if err != nil {
		return nil, err
	}
	if !m.HasTeam(res.Winner) {
		return nil, bracket.Validationf("winner %s does not play in match %s", res.Winner, m.ID)
	}
	if err := bracket.ValidateScore(res.Team1Sets, res.Team2Sets, res.Winner == m.Team1); err != nil {
		return nil, err
	}
	if err := m.Transition(bracket.MatchCompleted); err != nil {
		return nil, err
	}
	m.Team1Sets = append([]int(nil), res.Team1Sets...)
	m.Team2Sets = append([]int(nil), res.Team2Sets...)
	winner := res.Winner
	m.Winner = &winner

	e.logger.Info("match result recorded",
		"tournament_id", m.TournamentID,
		"match_id", m.ID,
		"round", m.Round,
		"winner_id", winner,
	)
	return e.advance(next, m)
}

// RecordWalkover awards the match without play, e.g. after a no-show. A
// cancelled knockout match can still be decided this way so the bracket
// moves on.
func (e *Engine) RecordWalkover(st *bracket.State, matchID, winner uuid.UUID) (*Outcome, error) {
	next, m, err := e.prepare(st, matchID)
	if err != nil {
		return nil, err
	}
	if !m.HasTeam(winner) {
		return nil, bracket.Validationf("winner %s does not play in match %s", winner, m.ID)
	}
	if m.Status == bracket.MatchCancelled && !next.Tournament.Format.IsElimination() {
		return nil, bracket.Validationf("match %s is cancelled and already counts as played", m.ID)
	}
	if err := m.Transition(bracket.MatchWalkover); err != nil {
		return nil, err
	}
	m.Winner = &winner

	e.logger.Info("walkover recorded", "tournament_id", m.TournamentID, "match_id", m.ID, "winner_id", winner)
	return e.advance(next, m)
}

func (e *Engine) Postpone(st *bracket.State, matchID uuid.UUID) (*Outcome, error) {
	next, m, err := e.prepare(st, matchID)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(bracket.MatchPostponed); err != nil {
		return nil, err
	}
	return &Outcome{State: next, Match: m}, nil
}

// Cancel drops a match without a result. Group formats count it as played
// for round completion; knockout brackets wait for a manual decision.
func (e *Engine) Cancel(st *bracket.State, matchID uuid.UUID) (*Outcome, error) {
	next, m, err := e.prepare(st, matchID)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(bracket.MatchCancelled); err != nil {
		return nil, err
	}
	e.logger.Warn("match cancelled", "tournament_id", m.TournamentID, "match_id", m.ID)
	return e.advance(next, m)
}

// Withdraw takes a team out of the rest of the tournament. Its open
// knockout matches go to the opponent as walkovers and its open group
// matches are cancelled; either way the bracket advances as if they had
// been played. Matches the team would reach later are forfeited when they
// are created.
func (e *Engine) Withdraw(st *bracket.State, teamID uuid.UUID) (*Outcome, error) {
	if st.Tournament == nil {
		return nil, bracket.Validationf("state has no tournament")
	}
	if st.Tournament.Status != bracket.TournamentInProgress {
		return nil, bracket.Validationf("tournament %s is %s, not in progress", st.Tournament.ID, st.Tournament.Status)
	}
	if _, ok := st.Team(teamID); !ok {
		return nil, bracket.NotFoundf("team %s", teamID)
	}
	strat, err := e.strategy(st)
	if err != nil {
		return nil, err
	}

	next := st.Clone()
	team, _ := next.Team(teamID)
	if team.Status == bracket.RegistrationCancelled {
		return nil, bracket.Validationf("team %s already withdrew", teamID)
	}
	team.Status = bracket.RegistrationCancelled

	out := &Outcome{State: next}
	for _, m := range next.TeamMatches(teamID) {
		if m.IsSettled() {
			continue
		}
		if err := forfeit(next, m, teamID); err != nil {
			return nil, err
		}
		out.Forfeited = append(out.Forfeited, m)
		if err := e.settle(strat, next, m, out); err != nil {
			return nil, err
		}
		if out.Completed {
			break
		}
	}

	e.logger.Info("team withdrew",
		"tournament_id", st.Tournament.ID,
		"team_id", teamID,
		"forfeited", len(out.Forfeited),
		"new_matches", len(out.NewMatches),
	)
	if out.Completed {
		if err := e.complete(strat, next, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// forfeit settles m against the team that quit: a walkover for the
// opponent in knockout formats, a cancellation in group formats.
func forfeit(st *bracket.State, m *bracket.Match, quitter uuid.UUID) error {
	if !st.Tournament.Format.IsElimination() {
		return m.Transition(bracket.MatchCancelled)
	}
	if err := m.Transition(bracket.MatchWalkover); err != nil {
		return err
	}
	winner := m.Opponent(quitter)
	m.Winner = &winner
	return nil
}

// withdrawn returns the side of m whose team has left the tournament.
func withdrawn(st *bracket.State, m *bracket.Match) (uuid.UUID, bool) {
	for _, id := range []uuid.UUID{m.Team2, m.Team1} {
		if t, ok := st.Team(id); ok && t.Status == bracket.RegistrationCancelled {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (e *Engine) Standings(st *bracket.State) ([]bracket.Standing, error) {
	strat, err := e.strategy(st)
	if err != nil {
		return nil, err
	}
	if st.Bracket == nil {
		return nil, bracket.NotFoundf("tournament %s has no bracket yet", st.Tournament.ID)
	}
	return strat.Standings(st), nil
}

// prepare clones the state and returns the clone's copy of the match.
func (e *Engine) prepare(st *bracket.State, matchID uuid.UUID) (*bracket.State, *bracket.Match, error) {
	if st.Tournament == nil {
		return nil, nil, bracket.Validationf("state has no tournament")
	}
	if st.Tournament.Status != bracket.TournamentInProgress {
		return nil, nil, bracket.Validationf("tournament %s is %s, not in progress", st.Tournament.ID, st.Tournament.Status)
	}
	if _, ok := st.Match(matchID); !ok {
		return nil, nil, bracket.NotFoundf("match %s", matchID)
	}
	next := st.Clone()
	m, _ := next.Match(matchID)
	return next, m, nil
}

func (e *Engine) advance(st *bracket.State, m *bracket.Match) (*Outcome, error) {
	strat, err := e.strategy(st)
	if err != nil {
		return nil, err
	}
	out := &Outcome{State: st, Match: m}
	if err := e.settle(strat, st, m, out); err != nil {
		return nil, err
	}
	if len(out.NewMatches) > 0 {
		e.logger.Info("bracket advanced", "tournament_id", m.TournamentID, "new_matches", len(out.NewMatches))
	}
	if out.Completed {
		if err := e.complete(strat, st, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// settle advances the bracket past m. A new match that pairs a withdrawn
// team is forfeited on the spot and advanced in turn.
func (e *Engine) settle(strat format.Strategy, st *bracket.State, m *bracket.Match, out *Outcome) error {
	adv, err := strat.Advance(st, m)
	if err != nil {
		return err
	}
	for _, nm := range adv.NewMatches {
		quitter, ok := withdrawn(st, nm)
		if !ok {
			out.NewMatches = append(out.NewMatches, nm)
			continue
		}
		if err := forfeit(st, nm, quitter); err != nil {
			return err
		}
		out.Forfeited = append(out.Forfeited, nm)
		if err := e.settle(strat, st, nm, out); err != nil {
			return err
		}
	}
	if adv.Complete {
		out.Completed = true
	}
	return nil
}

func (e *Engine) complete(strat format.Strategy, st *bracket.State, out *Outcome) error {
	out.Standings = strat.Standings(st)
	if err := st.Tournament.Transition(bracket.TournamentCompleted); err != nil {
		return err
	}
	out.Awards = bracket.AwardPrizes(st.Tournament.ID, st.Tournament.Prizes, out.Standings)
	st.Awards = out.Awards

	e.logger.Info("tournament completed",
		"tournament_id", st.Tournament.ID,
		"champion_id", out.Standings[0].TeamID,
		"awards", len(out.Awards),
	)
	return nil
}
