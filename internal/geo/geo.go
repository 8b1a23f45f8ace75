// Package geo clusters teams by location and picks venues that keep travel
// short.
package geo

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"golang.org/x/sync/errgroup"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b bracket.Location) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

type Point struct {
	ID       uuid.UUID        `json:"id"`
	Location bracket.Location `json:"location"`
}

type Cluster struct {
	Index   int              `json:"index"`
	Center  bracket.Location `json:"center"`
	Members []Point          `json:"members"`
}

type Clustering struct {
	K        int       `json:"k"`
	Clusters []Cluster `json:"clusters"`
	// WCSS is the within-cluster sum of squared distances in km².
	WCSS float64 `json:"wcss"`
	// Unlocated lists entities left out because they have no coordinates.
	Unlocated []uuid.UUID `json:"unlocated,omitempty"`
}

// Membership maps every clustered entity to its cluster index.
func (c *Clustering) Membership() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, cl := range c.Clusters {
		for _, m := range cl.Members {
			out[m.ID] = cl.Index
		}
	}
	return out
}

type Optimizer struct {
	logger   *slog.Logger
	maxIter  int
	parallel int
}

type Option func(*Optimizer)

func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l }
}

// WithParallelism bounds how many cluster counts are tried at once.
func WithParallelism(n int) Option {
	return func(o *Optimizer) { o.parallel = n }
}

func New(opts ...Option) *Optimizer {
	o := &Optimizer{logger: slog.Default(), maxIter: 100, parallel: 4}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cluster groups the located entities with k-means, picking k with an elbow
// scan over 1..min(10, n/2). Entities without coordinates are reported in
// Unlocated with a warning instead of failing the run.
func (o *Optimizer) Cluster(ctx context.Context, items []bracket.Locatable) (*Clustering, error) {
	var points []Point
	var unlocated []uuid.UUID
	for _, it := range items {
		loc, ok := it.Location()
		if !ok {
			o.logger.Warn("location unresolved, excluded from clustering", "entity_id", it.EntityID())
			unlocated = append(unlocated, it.EntityID())
			continue
		}
		points = append(points, Point{ID: it.EntityID(), Location: loc})
	}
	if len(points) == 0 {
		return &Clustering{Unlocated: unlocated}, nil
	}

	kMax := min(10, len(points)/2)
	if kMax < 1 {
		kMax = 1
	}
	runs := make([]*Clustering, kMax+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)
	for k := 1; k <= kMax; k++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runs[k] = o.kmeans(points, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	k, ok := elbow(runs[1:])
	if !ok {
		k = min(4, max(2, len(points)/8))
		k = min(k, len(points))
		o.logger.Debug("elbow ambiguous, using fallback cluster count", "k", k, "points", len(points))
		if k > kMax {
			runs = append(runs, make([]*Clustering, k-kMax)...)
			runs[k] = o.kmeans(points, k)
		}
	}
	best := runs[k]
	best.Unlocated = unlocated
	return best, nil
}

// elbow returns the k whose WCSS lies furthest below the straight line
// from k=1 to k=max. It reports false when the curve has no clear bend.
func elbow(runs []*Clustering) (int, bool) {
	if len(runs) < 3 {
		return 0, false
	}
	first, last := runs[0].WCSS, runs[len(runs)-1].WCSS
	if first <= 0 || first-last <= 0 {
		return 0, false
	}
	n := float64(len(runs) - 1)
	bestK, bestGap := 0, 0.0
	for i, r := range runs {
		x := float64(i) / n
		y := (r.WCSS - last) / (first - last)
		// distance below the chord from (0,1) to (1,0)
		gap := (1 - x) - y
		if gap > bestGap {
			bestK, bestGap = i+1, gap
		}
	}
	if bestGap < 0.1 {
		return 0, false
	}
	return bestK, true
}

// kmeans runs Lloyd's algorithm from a farthest-point start so the result
// is deterministic for a given input order.
func (o *Optimizer) kmeans(points []Point, k int) *Clustering {
	centers := []bracket.Location{points[0].Location}
	for len(centers) < k {
		far, farDist := 0, -1.0
		for i, p := range points {
			d := nearestDist(p.Location, centers)
			if d > farDist {
				far, farDist = i, d
			}
		}
		centers = append(centers, points[far].Location)
	}

	assign := make([]int, len(points))
	for iter := 0; iter < o.maxIter; iter++ {
		changed := iter == 0
		for i, p := range points {
			c := nearest(p.Location, centers)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		sums := make([]bracket.Location, k)
		counts := make([]int, k)
		for i, p := range points {
			sums[assign[i]].Lat += p.Location.Lat
			sums[assign[i]].Lng += p.Location.Lng
			counts[assign[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = bracket.Location{Lat: sums[c].Lat / float64(counts[c]), Lng: sums[c].Lng / float64(counts[c])}
			}
		}
		if !changed {
			break
		}
	}

	out := &Clustering{K: k, Clusters: make([]Cluster, k)}
	for c := range centers {
		out.Clusters[c] = Cluster{Index: c, Center: centers[c]}
	}
	for i, p := range points {
		c := assign[i]
		out.Clusters[c].Members = append(out.Clusters[c].Members, p)
		d := DistanceKm(p.Location, centers[c])
		out.WCSS += d * d
	}
	return out
}

func nearest(p bracket.Location, centers []bracket.Location) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centers {
		if d := DistanceKm(p, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func nearestDist(p bracket.Location, centers []bracket.Location) float64 {
	return DistanceKm(p, centers[nearest(p, centers)])
}

// Venue is a club seen as a single location hosting one or more courts.
type Venue struct {
	ClubID   uuid.UUID        `json:"club_id"`
	Location bracket.Location `json:"location"`
	Courts   []*bracket.Court `json:"courts"`
}

// VenuesFromCourts groups courts by club, placing each venue at the mean of
// its courts' coordinates. Venues come back in club ID order.
func VenuesFromCourts(courts []*bracket.Court) []Venue {
	byClub := make(map[uuid.UUID]*Venue)
	for _, c := range courts {
		v, ok := byClub[c.ClubID]
		if !ok {
			v = &Venue{ClubID: c.ClubID}
			byClub[c.ClubID] = v
		}
		v.Courts = append(v.Courts, c)
	}
	out := make([]Venue, 0, len(byClub))
	for _, v := range byClub {
		for _, c := range v.Courts {
			v.Location.Lat += c.Lat
			v.Location.Lng += c.Lng
		}
		v.Location.Lat /= float64(len(v.Courts))
		v.Location.Lng /= float64(len(v.Courts))
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClubID.String() < out[j].ClubID.String() })
	return out
}

type HomeVenue struct {
	Cluster int       `json:"cluster"`
	ClubID  uuid.UUID `json:"club_id"`
	Score   float64   `json:"score"`
}

// AssignHomeVenues picks, per cluster, the venue minimising
// 0.7 × mean member distance + 0.3 × distance to the cluster center.
func (o *Optimizer) AssignHomeVenues(c *Clustering, venues []Venue) []HomeVenue {
	if len(venues) == 0 {
		return nil
	}
	var out []HomeVenue
	for _, cl := range c.Clusters {
		if len(cl.Members) == 0 {
			continue
		}
		best := HomeVenue{Cluster: cl.Index, Score: math.Inf(1)}
		for _, v := range venues {
			var team float64
			for _, m := range cl.Members {
				team += DistanceKm(m.Location, v.Location)
			}
			team /= float64(len(cl.Members))
			score := 0.7*team + 0.3*DistanceKm(cl.Center, v.Location)
			if score < best.Score {
				best.ClubID, best.Score = v.ClubID, score
			}
		}
		out = append(out, best)
	}
	return out
}

type MatchPair struct {
	MatchID uuid.UUID
	Home    bracket.Locatable
	Away    bracket.Locatable
}

type VenueChoice struct {
	MatchID uuid.UUID `json:"match_id"`
	ClubID  uuid.UUID `json:"club_id"`
	HomeKm  float64   `json:"home_km"`
	AwayKm  float64   `json:"away_km"`
	Score   float64   `json:"score"`
}

// OptimizeMatchVenues picks the venue minimising 0.3 × home travel + 0.7 ×
// away travel for every pair. Pairs where neither team has a location get
// no choice.
func (o *Optimizer) OptimizeMatchVenues(pairs []MatchPair, venues []Venue) map[uuid.UUID]VenueChoice {
	out := make(map[uuid.UUID]VenueChoice, len(pairs))
	if len(venues) == 0 {
		return out
	}
	for _, p := range pairs {
		home, homeOK := p.Home.Location()
		away, awayOK := p.Away.Location()
		if !homeOK && !awayOK {
			continue
		}
		best := VenueChoice{MatchID: p.MatchID, Score: math.Inf(1)}
		for _, v := range venues {
			var h, a float64
			if homeOK {
				h = DistanceKm(home, v.Location)
			}
			if awayOK {
				a = DistanceKm(away, v.Location)
			}
			if score := 0.3*h + 0.7*a; score < best.Score {
				best.ClubID, best.HomeKm, best.AwayKm, best.Score = v.ClubID, h, a, score
			}
		}
		out[p.MatchID] = best
	}
	return out
}
