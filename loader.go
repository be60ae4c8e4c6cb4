package enviz

import (
	"context"
	"errors"
	"fmt"
)

// Built-in group ids populated by BuildEnsemble from entity types.
const (
	GroupProducers = "producers"
	GroupInjectors = "injectors"
	GroupAll       = "all"
)

// RawSeries is one entity/property series as produced by a Source, before
// normalization. Sample order is not required; time values are day offsets
// recovered by the source from whatever origin its format uses.
type RawSeries struct {
	Realization string
	Entity      string
	Type        EntityType
	Property    string
	Samples     []Sample
}

// RawObserved is an observed (historical) series for a (group, property)
// pair.
type RawObserved struct {
	Group    string
	Property string
	Samples  []Sample
}

// Source is the loader boundary: an external collaborator that parses some
// storage format into raw series. Sources own format specifics (CSV
// dialects, schemas, bucket layouts); the core owns normalization and
// validation.
type Source interface {
	Read(ctx context.Context) ([]RawSeries, []RawObserved, error)
}

// BuildEnsemble reads a source, normalizes every series (sorting samples
// and rejecting duplicate time values with a DataError) and assembles the
// ensemble, including the built-in type groups.
func BuildEnsemble(ctx context.Context, src Source) (*Ensemble, error) {
	series, observed, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}

	en := NewEnsemble()
	for _, rs := range series {
		samples, err := NormalizeSamples(rs.Samples)
		if err != nil {
			return nil, &DataError{
				Realization: rs.Realization,
				Entity:      rs.Entity,
				Property:    rs.Property,
				Message:     "normalizing samples",
				Cause:       err,
			}
		}
		ts, err := NewTimeSeries(samples)
		if err != nil {
			return nil, &DataError{
				Realization: rs.Realization,
				Entity:      rs.Entity,
				Property:    rs.Property,
				Message:     "building series",
				Cause:       err,
			}
		}

		r, err := en.Realization(rs.Realization)
		if errors.Is(err, ErrNotFound) {
			r = NewRealization(rs.Realization)
			en.AddRealization(r)
		}
		e, err := r.Entity(rs.Entity)
		if errors.Is(err, ErrNotFound) {
			e = NewEntity(rs.Entity, rs.Type, rs.Realization)
			r.AddEntity(e)
		}
		e.SetSeries(rs.Property, ts)
	}

	en.DefineTypeGroup(GroupProducers, EntityProducer)
	en.DefineTypeGroup(GroupInjectors, EntityInjector)
	// The "all" group spans the union of entity ids over every realization,
	// so an entity present in only some realizations still belongs.
	seen := make(map[string]struct{})
	for _, rid := range en.RealizationIDs() {
		r, _ := en.Realization(rid)
		for _, eid := range r.EntityIDs() {
			seen[eid] = struct{}{}
		}
	}
	if len(seen) > 0 {
		all := make([]string, 0, len(seen))
		for eid := range seen {
			all = append(all, eid)
		}
		en.DefineGroup(GroupAll, all)
	}

	for _, ro := range observed {
		samples, err := NormalizeSamples(ro.Samples)
		if err != nil {
			return nil, &DataError{
				Property: ro.Property,
				Message:  fmt.Sprintf("normalizing observed data for group %q", ro.Group),
				Cause:    err,
			}
		}
		ts, err := NewTimeSeries(samples)
		if err != nil {
			return nil, &DataError{
				Property: ro.Property,
				Message:  fmt.Sprintf("building observed series for group %q", ro.Group),
				Cause:    err,
			}
		}
		en.SetObserved(ro.Group, ro.Property, ts)
	}
	return en, nil
}
