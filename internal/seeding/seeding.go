// Package seeding orders confirmed teams before bracket construction.
package seeding

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
)

type Options struct {
	// Manual is the full team order for SeedManual.
	Manual []uuid.UUID
	// Rand drives SeedRandom. A time-seeded source is used when nil.
	Rand *rand.Rand
	// Clusters groups teams that name no region for SeedGeographic, usually
	// from geo.Optimizer.Cluster. Keys are team IDs.
	Clusters map[uuid.UUID]int
}

// Seed returns copies of the teams in seeded order with Seed set from 1.
// The input slice and teams are left untouched.
func Seed(teams []*bracket.Team, method bracket.SeedingMethod, opts Options) ([]*bracket.Team, error) {
	ordered := make([]*bracket.Team, len(teams))
	for i, t := range teams {
		c := *t
		ordered[i] = &c
	}

	switch method {
	case bracket.SeedByRating, "":
		byRating(ordered)
	case bracket.SeedByGeographic:
		ordered = byGeography(ordered, opts.Clusters)
	case bracket.SeedManual:
		var err error
		ordered, err = manual(ordered, opts.Manual)
		if err != nil {
			return nil, err
		}
	case bracket.SeedRandom:
		r := opts.Rand
		if r == nil {
			r = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
		}
		r.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	default:
		return nil, bracket.Validationf("unknown seeding method %q", method)
	}

	for i, t := range ordered {
		t.Seed = i + 1
	}
	return ordered, nil
}

// byRating sorts by descending average rating; ties keep registration order.
func byRating(teams []*bracket.Team) {
	sort.SliceStable(teams, func(i, j int) bool {
		ri, rj := teams[i].AverageRating(), teams[j].AverageRating()
		if ri != rj {
			return ri > rj
		}
		return teams[i].RegisteredAt.Before(teams[j].RegisteredAt)
	})
}

func regionKey(t *bracket.Team, clusters map[uuid.UUID]int) string {
	if t.Region != "" {
		return t.Region
	}
	if c, ok := clusters[t.ID]; ok {
		return fmt.Sprintf("cluster-%d", c)
	}
	if t.ClubID != nil {
		return t.ClubID.String()
	}
	return ""
}

// byGeography seeds within each region, then interleaves the regions so
// teams from the same region land far apart in the early rounds. A team
// without a region falls back to its location cluster, then its club.
func byGeography(teams []*bracket.Team, clusters map[uuid.UUID]int) []*bracket.Team {
	groups := make(map[string][]*bracket.Team)
	var keys []string
	for _, t := range teams {
		k := regionKey(t, clusters)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], t)
	}
	for _, k := range keys {
		byRating(groups[k])
	}

	sort.SliceStable(keys, func(i, j int) bool {
		gi, gj := groups[keys[i]], groups[keys[j]]
		if len(gi) != len(gj) {
			return len(gi) > len(gj)
		}
		return gi[0].AverageRating() > gj[0].AverageRating()
	})

	out := make([]*bracket.Team, 0, len(teams))
	for depth := 0; len(out) < len(teams); depth++ {
		for _, k := range keys {
			if depth < len(groups[k]) {
				out = append(out, groups[k][depth])
			}
		}
	}
	return out
}

func manual(teams []*bracket.Team, order []uuid.UUID) ([]*bracket.Team, error) {
	if len(order) != len(teams) {
		return nil, bracket.Validationf("manual seeding lists %d teams, expected %d", len(order), len(teams))
	}
	byID := make(map[uuid.UUID]*bracket.Team, len(teams))
	for _, t := range teams {
		byID[t.ID] = t
	}
	out := make([]*bracket.Team, 0, len(order))
	seen := make(map[uuid.UUID]bool, len(order))
	for _, id := range order {
		t, ok := byID[id]
		if !ok {
			return nil, bracket.Validationf("manual seeding references unknown team %s", id)
		}
		if seen[id] {
			return nil, bracket.Validationf("manual seeding lists team %s twice", id)
		}
		seen[id] = true
		out = append(out, t)
	}
	return out, nil
}
