package geo

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	madrid    = bracket.Location{Lat: 40.4168, Lng: -3.7038}
	barcelona = bracket.Location{Lat: 41.3874, Lng: 2.1686}
	valencia  = bracket.Location{Lat: 39.4699, Lng: -0.3763}
)

func quiet() *Optimizer {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func teamAt(loc bracket.Location) *bracket.Team {
	return &bracket.Team{ID: uuid.New(), Lat: utils.Ptr(loc.Lat), Lng: utils.Ptr(loc.Lng)}
}

func around(center bracket.Location, n int) []bracket.Locatable {
	var out []bracket.Locatable
	for i := 0; i < n; i++ {
		off := float64(i) * 0.01
		out = append(out, teamAt(bracket.Location{Lat: center.Lat + off, Lng: center.Lng - off}))
	}
	return out
}

func TestDistanceKm(t *testing.T) {
	testCases := []struct {
		name string
		a, b bracket.Location
		want float64
	}{
		{name: "same point", a: madrid, b: madrid, want: 0},
		{name: "madrid to barcelona", a: madrid, b: barcelona, want: 505},
		{name: "madrid to valencia", a: madrid, b: valencia, want: 302},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, DistanceKm(tc.a, tc.b), 5)
			assert.InDelta(t, DistanceKm(tc.a, tc.b), DistanceKm(tc.b, tc.a), 1e-9)
		})
	}
}

func TestClusterFindsSeparatedGroups(t *testing.T) {
	var items []bracket.Locatable
	groups := make(map[uuid.UUID]int)
	for g, center := range []bracket.Location{madrid, barcelona, valencia} {
		for _, it := range around(center, 6) {
			items = append(items, it)
			groups[it.EntityID()] = g
		}
	}
	noLocation := &bracket.Team{ID: uuid.New()}
	items = append(items, noLocation)

	c, err := quiet().Cluster(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 3, c.K)
	assert.Equal(t, []uuid.UUID{noLocation.ID}, c.Unlocated)
	for _, cl := range c.Clusters {
		require.Len(t, cl.Members, 6)
		want := groups[cl.Members[0].ID]
		for _, m := range cl.Members {
			assert.Equal(t, want, groups[m.ID])
		}
	}
}

func TestClusterIsDeterministic(t *testing.T) {
	var items []bracket.Locatable
	items = append(items, around(madrid, 5)...)
	items = append(items, around(barcelona, 5)...)

	first, err := quiet().Cluster(context.Background(), items)
	require.NoError(t, err)
	second, err := New(WithParallelism(1), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Cluster(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClusterFallbackWhenNoElbow(t *testing.T) {
	testCases := []struct {
		name  string
		items []bracket.Locatable
		wantK int
	}{
		{name: "identical points", items: []bracket.Locatable{teamAt(madrid), teamAt(madrid), teamAt(madrid), teamAt(madrid), teamAt(madrid)}, wantK: 2},
		{name: "too few points to scan", items: []bracket.Locatable{teamAt(madrid), teamAt(valencia), teamAt(barcelona)}, wantK: 2},
		{name: "single point", items: []bracket.Locatable{teamAt(madrid)}, wantK: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := quiet().Cluster(context.Background(), tc.items)
			require.NoError(t, err)
			assert.Equal(t, tc.wantK, c.K)
		})
	}
}

func TestClusterWithoutLocations(t *testing.T) {
	c, err := quiet().Cluster(context.Background(), []bracket.Locatable{&bracket.Team{ID: uuid.New()}})
	require.NoError(t, err)
	assert.Zero(t, c.K)
	assert.Len(t, c.Unlocated, 1)
}

func TestClusterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := quiet().Cluster(ctx, around(madrid, 8))
	require.ErrorIs(t, err, context.Canceled)
}

func clubCourts(club uuid.UUID, loc bracket.Location, n int) []*bracket.Court {
	var out []*bracket.Court
	for i := 0; i < n; i++ {
		out = append(out, &bracket.Court{ID: uuid.New(), ClubID: club, Lat: loc.Lat, Lng: loc.Lng})
	}
	return out
}

func TestVenuesAndHomeAssignment(t *testing.T) {
	madridClub, bcnClub := uuid.New(), uuid.New()
	courts := append(clubCourts(madridClub, madrid, 2), clubCourts(bcnClub, barcelona, 3)...)
	venues := VenuesFromCourts(courts)
	require.Len(t, venues, 2)

	var items []bracket.Locatable
	items = append(items, around(madrid, 5)...)
	items = append(items, around(barcelona, 5)...)
	o := quiet()
	c, err := o.Cluster(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, 2, c.K)

	homes := o.AssignHomeVenues(c, venues)
	require.Len(t, homes, 2)
	for _, h := range homes {
		center := c.Clusters[h.Cluster].Center
		if DistanceKm(center, madrid) < DistanceKm(center, barcelona) {
			assert.Equal(t, madridClub, h.ClubID)
		} else {
			assert.Equal(t, bcnClub, h.ClubID)
		}
	}
}

func TestOptimizeMatchVenuesFavoursAwayTeam(t *testing.T) {
	madridClub, bcnClub := uuid.New(), uuid.New()
	venues := VenuesFromCourts(append(clubCourts(madridClub, madrid, 1), clubCourts(bcnClub, barcelona, 1)...))

	m1, m2 := uuid.New(), uuid.New()
	choices := quiet().OptimizeMatchVenues([]MatchPair{
		{MatchID: m1, Home: teamAt(madrid), Away: teamAt(barcelona)},
		{MatchID: m2, Home: &bracket.Team{ID: uuid.New()}, Away: &bracket.Team{ID: uuid.New()}},
	}, venues)

	require.Contains(t, choices, m1)
	assert.Equal(t, bcnClub, choices[m1].ClubID)
	assert.InDelta(t, 0, choices[m1].AwayKm, 0.01)
	assert.NotContains(t, choices, m2)
}
