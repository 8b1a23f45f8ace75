package bracket

import "github.com/google/uuid"

type Standing struct {
	TeamID       uuid.UUID `json:"team_id"`
	Rank         int       `json:"rank"`
	Played       int       `json:"played"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	Byes         int       `json:"byes"`
	Points       float64   `json:"points"`
	SetsFor      int       `json:"sets_for"`
	SetsAgainst  int       `json:"sets_against"`
	GamesFor     int       `json:"games_for"`
	GamesAgainst int       `json:"games_against"`
	Buchholz     float64   `json:"buchholz"`
	// EliminatedIn is the stage a team was knocked out in; 0 while alive.
	EliminatedIn int `json:"eliminated_in,omitempty"`
}

func (s Standing) SetDiff() int  { return s.SetsFor - s.SetsAgainst }
func (s Standing) GameDiff() int { return s.GamesFor - s.GamesAgainst }

// AwardPrizes walks the configured prize positions against the final ranking.
func AwardPrizes(tournamentID uuid.UUID, prizes []Prize, ranking []Standing) []PrizeAward {
	byRank := make(map[int]uuid.UUID, len(ranking))
	for _, s := range ranking {
		if _, taken := byRank[s.Rank]; !taken {
			byRank[s.Rank] = s.TeamID
		}
	}
	var awards []PrizeAward
	for _, p := range prizes {
		teamID, ok := byRank[p.Position]
		if !ok {
			continue
		}
		awards = append(awards, PrizeAward{
			TournamentID: tournamentID,
			Position:     p.Position,
			TeamID:       teamID,
			Description:  p.Description,
		})
	}
	return awards
}
