package enviz

import (
	"fmt"
	"sort"
	"sync"
)

// AggFunc identifies how member entities of a group are combined into a
// single aggregated series per realization.
type AggFunc string

const (
	// AggSum accumulates member values, the conventional group-production
	// aggregate for well groups.
	AggSum AggFunc = "sum"
	// AggMean averages member values.
	AggMean AggFunc = "mean"
)

// GroupSeries is the result of a group-level query: one aggregated,
// axis-aligned series per realization.
type GroupSeries struct {
	Group    string
	Property string
	Agg      AggFunc

	Axis         CanonicalTimeAxis
	Realizations []string
	// Values maps realization id to a series of length Axis.Len().
	// Positions where no member entity has a defined value are absent.
	Values map[string][]float64
}

// Ensemble holds one set of entity time series per realization plus group
// definitions and optional observed (historical) data. It exclusively owns
// all series data for its lifetime; derived structures are produced by the
// distance, projection and rank engines.
type Ensemble struct {
	realizations map[string]*Realization
	groups       map[string][]string // group id -> sorted entity ids
	observed     map[string]TimeSeries

	// Per-(group, property) canonical axes are built lazily and dropped
	// whenever group membership or ensemble membership changes. The lazy
	// population can happen from engine worker goroutines, so access goes
	// through axisMu.
	axisMu    sync.Mutex
	axisCache map[string]CanonicalTimeAxis
}

// NewEnsemble creates an empty ensemble.
func NewEnsemble() *Ensemble {
	return &Ensemble{
		realizations: make(map[string]*Realization),
		groups:       make(map[string][]string),
		observed:     make(map[string]TimeSeries),
		axisCache:    make(map[string]CanonicalTimeAxis),
	}
}

// AddRealization registers a realization. Entities or properties missing
// relative to other realizations are treated as absent by queries, never as
// an error; use ValidateSchema for a strict check.
func (en *Ensemble) AddRealization(r *Realization) {
	en.realizations[r.ID] = r
	en.axisMu.Lock()
	en.axisCache = make(map[string]CanonicalTimeAxis)
	en.axisMu.Unlock()
}

// Realization returns the realization with the given id or ErrNotFound.
func (en *Ensemble) Realization(id string) (*Realization, error) {
	r, ok := en.realizations[id]
	if !ok {
		return nil, fmt.Errorf("realization %q: %w", id, ErrNotFound)
	}
	return r, nil
}

// RealizationIDs returns all realization identifiers, sorted.
func (en *Ensemble) RealizationIDs() []string {
	out := make([]string, 0, len(en.realizations))
	for id := range en.realizations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EntityQuery is a direct lookup of one entity's raw series.
func (en *Ensemble) EntityQuery(realizationID, entityID, property string) (TimeSeries, error) {
	r, err := en.Realization(realizationID)
	if err != nil {
		return TimeSeries{}, err
	}
	e, err := r.Entity(entityID)
	if err != nil {
		return TimeSeries{}, err
	}
	return e.Series(property)
}

// DefineGroup declares a named group of entities. Redefining a group drops
// the cached axes derived from its previous membership.
func (en *Ensemble) DefineGroup(id string, entityIDs []string) {
	members := make([]string, len(entityIDs))
	copy(members, entityIDs)
	sort.Strings(members)
	en.groups[id] = members
	en.invalidateGroup(id)
}

// DefineTypeGroup declares a group containing every entity of the given
// type across all realizations.
func (en *Ensemble) DefineTypeGroup(id string, typ EntityType) {
	seen := make(map[string]struct{})
	for _, r := range en.realizations {
		for _, e := range r.EntitiesOfType(typ) {
			seen[e.ID] = struct{}{}
		}
	}
	members := make([]string, 0, len(seen))
	for eid := range seen {
		members = append(members, eid)
	}
	en.DefineGroup(id, members)
}

// GroupEntities returns the sorted member entity ids of a group.
func (en *Ensemble) GroupEntities(id string) ([]string, error) {
	members, ok := en.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

func (en *Ensemble) invalidateGroup(id string) {
	en.axisMu.Lock()
	defer en.axisMu.Unlock()
	prefix := id + "|"
	for k := range en.axisCache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(en.axisCache, k)
		}
	}
}

// GroupAxis returns the canonical time axis for a (group, property) pair:
// the union of member entities' raw sample times across all realizations,
// scoped to the group. The axis is built lazily and cached.
func (en *Ensemble) GroupAxis(groupID, property string) (CanonicalTimeAxis, error) {
	key := groupID + "|" + property
	en.axisMu.Lock()
	defer en.axisMu.Unlock()
	if axis, ok := en.axisCache[key]; ok {
		return axis, nil
	}
	members, err := en.GroupEntities(groupID)
	if err != nil {
		return CanonicalTimeAxis{}, err
	}
	var series []TimeSeries
	for _, r := range en.realizations {
		for _, eid := range members {
			e, err := r.Entity(eid)
			if err != nil {
				continue // entity absent in this realization
			}
			ts, err := e.Series(property)
			if err != nil {
				continue // property absent for this entity
			}
			series = append(series, ts)
		}
	}
	if obs, ok := en.observed[key]; ok {
		series = append(series, obs)
	}
	axis := BuildAxis(series...)
	en.axisCache[key] = axis
	return axis, nil
}

// GroupQuery aggregates the group's member entities per realization over
// the group's canonical axis. A position is absent only when no member
// entity has a defined value there.
func (en *Ensemble) GroupQuery(groupID, property string, agg AggFunc) (*GroupSeries, error) {
	axis, err := en.GroupAxis(groupID, property)
	if err != nil {
		return nil, err
	}
	members, err := en.GroupEntities(groupID)
	if err != nil {
		return nil, err
	}

	gs := &GroupSeries{
		Group:        groupID,
		Property:     property,
		Agg:          agg,
		Axis:         axis,
		Realizations: en.RealizationIDs(),
		Values:       make(map[string][]float64, len(en.realizations)),
	}
	for _, rid := range gs.Realizations {
		r := en.realizations[rid]
		sums := make([]float64, axis.Len())
		counts := make([]int, axis.Len())
		for _, eid := range members {
			aligned, err := en.alignedEntity(r, eid, property, axis)
			if err != nil {
				return nil, err
			}
			if aligned == nil {
				continue
			}
			for i, v := range aligned {
				if IsAbsent(v) {
					continue
				}
				sums[i] += v
				counts[i]++
			}
		}
		vals := make([]float64, axis.Len())
		for i := range vals {
			switch {
			case counts[i] == 0:
				vals[i] = Absent()
			case agg == AggMean:
				vals[i] = sums[i] / float64(counts[i])
			default:
				vals[i] = sums[i]
			}
		}
		gs.Values[rid] = vals
	}
	return gs, nil
}

// alignedEntity aligns one entity's property series to axis, or returns nil
// when the entity or property is absent for the realization.
func (en *Ensemble) alignedEntity(r *Realization, entityID, property string, axis CanonicalTimeAxis) ([]float64, error) {
	e, err := r.Entity(entityID)
	if err != nil {
		return nil, nil
	}
	ts, err := e.Series(property)
	if err != nil {
		return nil, nil
	}
	aligned, err := axis.Align(ts)
	if err != nil {
		return nil, &DataError{
			Realization: r.ID,
			Entity:      entityID,
			Property:    property,
			Message:     "series not covered by group axis",
			Cause:       err,
		}
	}
	return aligned, nil
}

// featureTable is the per-entity view of a (group, property) pair used by
// the distance engine: for each realization, each member entity's values
// aligned on the group axis.
type featureTable struct {
	Axis         CanonicalTimeAxis
	Realizations []string
	Entities     []string
	// Values[r][e][t] is the value of entity e for realization r at axis
	// position t; absent positions are NaN.
	Values [][][]float64
}

// vectorAt extracts the entity-value vector of realization index r at axis
// position t.
func (ft *featureTable) vectorAt(r, t int) []float64 {
	vec := make([]float64, len(ft.Entities))
	for e := range ft.Entities {
		vec[e] = ft.Values[r][e][t]
	}
	return vec
}

func (en *Ensemble) groupVectors(groupID, property string) (*featureTable, error) {
	axis, err := en.GroupAxis(groupID, property)
	if err != nil {
		return nil, err
	}
	members, err := en.GroupEntities(groupID)
	if err != nil {
		return nil, err
	}
	ft := &featureTable{
		Axis:         axis,
		Realizations: en.RealizationIDs(),
		Entities:     members,
	}
	ft.Values = make([][][]float64, len(ft.Realizations))
	for ri, rid := range ft.Realizations {
		r := en.realizations[rid]
		ft.Values[ri] = make([][]float64, len(members))
		for ei, eid := range members {
			aligned, err := en.alignedEntity(r, eid, property, axis)
			if err != nil {
				return nil, err
			}
			if aligned == nil {
				aligned = make([]float64, axis.Len())
				for i := range aligned {
					aligned[i] = Absent()
				}
			}
			ft.Values[ri][ei] = aligned
		}
	}
	return ft, nil
}

// SetObserved attaches an observed (historical) series to a (group,
// property) pair. It feeds the distance-to-observed computation behind the
// rank engine.
func (en *Ensemble) SetObserved(groupID, property string, ts TimeSeries) {
	key := groupID + "|" + property
	en.observed[key] = ts
	en.axisMu.Lock()
	delete(en.axisCache, key)
	en.axisMu.Unlock()
}

// Observed returns the observed series aligned to the group's axis, or ok
// false when no observed data was attached.
func (en *Ensemble) Observed(groupID, property string) ([]float64, bool, error) {
	key := groupID + "|" + property
	ts, ok := en.observed[key]
	if !ok {
		return nil, false, nil
	}
	axis, err := en.GroupAxis(groupID, property)
	if err != nil {
		return nil, false, err
	}
	aligned, err := axis.Align(ts)
	if err != nil {
		return nil, false, &DataError{Property: property, Message: "observed series not covered by group axis", Cause: err}
	}
	return aligned, true, nil
}

// ValidateSchema verifies that every realization exposes the same entity
// identifiers and property names. Queries tolerate mismatches by treating
// missing data as absent; this check is for loaders that want to reject
// malformed ensembles up front.
func (en *Ensemble) ValidateSchema() error {
	ids := en.RealizationIDs()
	if len(ids) < 2 {
		return nil
	}
	ref := en.realizations[ids[0]]
	refEntities := ref.EntityIDs()
	refProps := schemaProperties(ref)
	for _, rid := range ids[1:] {
		r := en.realizations[rid]
		if !equalStrings(refEntities, r.EntityIDs()) {
			return &DataError{
				Realization: rid,
				Message:     fmt.Sprintf("entity set differs from realization %q", ids[0]),
				Cause:       ErrSchemaMismatch,
			}
		}
		if !equalStrings(refProps, schemaProperties(r)) {
			return &DataError{
				Realization: rid,
				Message:     fmt.Sprintf("property set differs from realization %q", ids[0]),
				Cause:       ErrSchemaMismatch,
			}
		}
	}
	return nil
}

func schemaProperties(r *Realization) []string {
	seen := make(map[string]struct{})
	for _, eid := range r.EntityIDs() {
		e, _ := r.Entity(eid)
		for _, p := range e.Properties() {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
