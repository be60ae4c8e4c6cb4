package enviz

import (
	"context"
	"sort"
)

// Rank holds the per-timestep ordinal ranking of realizations by their
// distance to the observed value. Rank 1 is the closest.
type Rank struct {
	Step int     `json:"step"`
	Time float64 `json:"time"`
	// Ranks maps realization id to its rank. Realizations with an
	// undefined distance at this timestep are absent from the map.
	Ranks map[string]int `json:"ranks"`
	// Unranked lists the realizations excluded for lack of a defined
	// distance, sorted by id. They never receive a sentinel rank.
	Unranked []string `json:"unranked,omitempty"`
}

// RankSeries is the ordered sequence of per-timestep ranks feeding the
// bump chart.
type RankSeries struct {
	Request DistanceRequest `json:"request"`
	Ranks   []Rank          `json:"ranks"`
}

// RankEngine derives ordinal ranks from distance-to-observed values.
type RankEngine struct {
	cfg RankConfig
}

// NewRankEngine creates a rank engine.
func NewRankEngine(cfg RankConfig) *RankEngine {
	return &RankEngine{cfg: cfg}
}

// Rank sorts realizations ascending by distance and assigns ranks 1..k.
// Distances equal within the configured tolerance share a rank
// (competition ranking, compared against the first member of the tie
// group); any ordering decision falls back to ascending realization id.
// ids not present in dist are reported unranked.
func (re *RankEngine) Rank(step int, time float64, ids []string, dist map[string]float64) Rank {
	r := Rank{Step: step, Time: time, Ranks: make(map[string]int)}

	ranked := make([]string, 0, len(dist))
	for _, id := range ids {
		if _, ok := dist[id]; ok {
			ranked = append(ranked, id)
		} else {
			r.Unranked = append(r.Unranked, id)
		}
	}
	sort.Strings(r.Unranked)
	sort.Slice(ranked, func(i, j int) bool {
		di, dj := dist[ranked[i]], dist[ranked[j]]
		if di != dj {
			return di < dj
		}
		return ranked[i] < ranked[j]
	})

	groupRank, groupLead := 0, 0.0
	for pos, id := range ranked {
		d := dist[id]
		if pos == 0 || d-groupLead > re.cfg.TieTolerance {
			groupRank = pos + 1
			groupLead = d
		}
		r.Ranks[id] = groupRank
	}
	return r
}

// RankAll ranks every timestep of a distance result. Timesteps are skipped
// entirely only when the result carries no observed data at all.
func (re *RankEngine) RankAll(ctx context.Context, dist *DistanceResult) (*RankSeries, error) {
	rs := &RankSeries{Request: dist.Request}
	if !dist.HasObserved {
		return rs, nil
	}
	for i, m := range dist.Matrices {
		if err := ctx.Err(); err != nil {
			return nil, &ComputeError{Stage: "rank", Message: "cancelled", Cause: ErrSuperseded}
		}
		rs.Ranks = append(rs.Ranks, re.Rank(m.Step, m.Time, m.IDs, dist.ToObserved[i]))
	}
	return rs, nil
}
