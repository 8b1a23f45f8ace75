package seeding

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTeam(name string, rating float64, region string, registered int) *bracket.Team {
	return &bracket.Team{
		ID:           uuid.New(),
		Name:         name,
		Rating:       rating,
		Region:       region,
		Status:       bracket.RegistrationConfirmed,
		RegisteredAt: base.Add(time.Duration(registered) * time.Minute),
	}
}

func names(teams []*bracket.Team) []string {
	out := make([]string, len(teams))
	for i, t := range teams {
		out[i] = t.Name
	}
	return out
}

func TestSeedByRating(t *testing.T) {
	teams := []*bracket.Team{
		newTeam("C", 1200, "", 0),
		newTeam("A", 1800, "", 1),
		newTeam("B2", 1500, "", 3),
		newTeam("B1", 1500, "", 2),
	}

	seeded, err := Seed(teams, bracket.SeedByRating, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B1", "B2", "C"}, names(seeded))
	for i, s := range seeded {
		assert.Equal(t, i+1, s.Seed)
	}
	// input untouched
	assert.Equal(t, "C", teams[0].Name)
	assert.Zero(t, teams[0].Seed)
}

func TestSeedByRatingUsesRosterAverage(t *testing.T) {
	low := newTeam("low", 2000, "", 0)
	low.Roster = []bracket.Player{{Rating: 1000}, {Rating: 1100}}
	high := newTeam("high", 900, "", 1)
	high.Roster = []bracket.Player{{Rating: 1500}, {Rating: 1700}}

	seeded, err := Seed([]*bracket.Team{low, high}, bracket.SeedByRating, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, names(seeded))
}

func TestSeedByGeography(t *testing.T) {
	teams := []*bracket.Team{
		newTeam("north-1", 1900, "north", 0),
		newTeam("north-2", 1800, "north", 1),
		newTeam("north-3", 1700, "north", 2),
		newTeam("south-1", 1850, "south", 3),
		newTeam("south-2", 1600, "south", 4),
		newTeam("east-1", 1750, "east", 5),
	}

	seeded, err := Seed(teams, bracket.SeedByGeographic, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"north-1", "south-1", "east-1", "north-2", "south-2", "north-3"}, names(seeded))
	for i := 1; i < 5; i++ {
		assert.NotEqual(t, seeded[i-1].Region, seeded[i].Region, "adjacent seeds %d and %d share a region", i, i+1)
	}
}

func TestSeedByGeographyFallsBackToClusters(t *testing.T) {
	madrid1 := newTeam("madrid-1", 2000, "", 0)
	barcelona1 := newTeam("barcelona-1", 1900, "", 1)
	barcelona2 := newTeam("barcelona-2", 1800, "", 2)
	madrid2 := newTeam("madrid-2", 1700, "", 3)
	teams := []*bracket.Team{madrid1, barcelona1, barcelona2, madrid2}

	plain, err := Seed(teams, bracket.SeedByGeographic, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"madrid-1", "barcelona-1", "barcelona-2", "madrid-2"}, names(plain))

	clusters := map[uuid.UUID]int{madrid1.ID: 0, madrid2.ID: 0, barcelona1.ID: 1, barcelona2.ID: 1}
	seeded, err := Seed(teams, bracket.SeedByGeographic, Options{Clusters: clusters})
	require.NoError(t, err)
	assert.Equal(t, []string{"madrid-1", "barcelona-1", "madrid-2", "barcelona-2"}, names(seeded))

	// a named region wins over the cluster
	madrid2.Region = "north"
	seeded, err = Seed(teams, bracket.SeedByGeographic, Options{Clusters: clusters})
	require.NoError(t, err)
	assert.Equal(t, "madrid-2", seeded[2].Name)
}

func TestSeedManual(t *testing.T) {
	a, b, c := newTeam("a", 1, "", 0), newTeam("b", 2, "", 1), newTeam("c", 3, "", 2)
	teams := []*bracket.Team{a, b, c}

	testCases := []struct {
		name    string
		order   []uuid.UUID
		want    []string
		wantErr bool
	}{
		{name: "valid permutation", order: []uuid.UUID{b.ID, c.ID, a.ID}, want: []string{"b", "c", "a"}},
		{name: "missing team", order: []uuid.UUID{b.ID, c.ID}, wantErr: true},
		{name: "duplicate team", order: []uuid.UUID{b.ID, b.ID, a.ID}, wantErr: true},
		{name: "unknown team", order: []uuid.UUID{b.ID, c.ID, uuid.New()}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seeded, err := Seed(teams, bracket.SeedManual, Options{Manual: tc.order})
			if tc.wantErr {
				require.ErrorIs(t, err, bracket.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(seeded))
		})
	}
}

func TestSeedRandomIsDeterministicForSource(t *testing.T) {
	var teams []*bracket.Team
	for i := 0; i < 16; i++ {
		teams = append(teams, newTeam(string(rune('a'+i)), float64(i), "", i))
	}

	first, err := Seed(teams, bracket.SeedRandom, Options{Rand: rand.New(rand.NewPCG(7, 7))})
	require.NoError(t, err)
	second, err := Seed(teams, bracket.SeedRandom, Options{Rand: rand.New(rand.NewPCG(7, 7))})
	require.NoError(t, err)

	assert.Equal(t, names(first), names(second))
	assert.ElementsMatch(t, names(teams), names(first))
}

func TestSeedUnknownMethod(t *testing.T) {
	_, err := Seed(nil, bracket.SeedingMethod("coin_flip"), Options{})
	require.ErrorIs(t, err, bracket.ErrValidation)
}
