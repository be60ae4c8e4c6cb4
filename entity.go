package enviz

import (
	"fmt"
	"sort"
)

// EntityType is the closed set of entity categories. All categories expose
// the same capability: named properties as alignable time series.
type EntityType int

const (
	// EntityProducer is a producing well.
	EntityProducer EntityType = iota
	// EntityInjector is an injecting well.
	EntityInjector
	// EntityObservation is a monitoring-only element with observed data.
	EntityObservation
)

// String returns the short code used in type files ("P", "I", "O").
func (t EntityType) String() string {
	switch t {
	case EntityProducer:
		return "P"
	case EntityInjector:
		return "I"
	case EntityObservation:
		return "O"
	}
	return "?"
}

// ParseEntityType maps a type code to an EntityType.
func ParseEntityType(code string) (EntityType, error) {
	switch code {
	case "P", "p":
		return EntityProducer, nil
	case "I", "i":
		return EntityInjector, nil
	case "O", "o":
		return EntityObservation, nil
	}
	return 0, fmt.Errorf("unknown entity type %q", code)
}

// Entity is an individually tracked element within a realization, such as a
// well, holding one time series per property.
type Entity struct {
	ID          string
	Type        EntityType
	Realization string

	series map[string]TimeSeries
}

// NewEntity creates an empty entity.
func NewEntity(id string, typ EntityType, realization string) *Entity {
	return &Entity{
		ID:          id,
		Type:        typ,
		Realization: realization,
		series:      make(map[string]TimeSeries),
	}
}

// SetSeries stores the series for a property, replacing any previous one.
func (e *Entity) SetSeries(property string, ts TimeSeries) {
	e.series[property] = ts
}

// Series returns the raw series for a property. It returns ErrNotFound if
// the entity has no data for the property.
func (e *Entity) Series(property string) (TimeSeries, error) {
	ts, ok := e.series[property]
	if !ok {
		return TimeSeries{}, fmt.Errorf("property %q on entity %q: %w", property, e.ID, ErrNotFound)
	}
	return ts, nil
}

// Properties returns the property names this entity has data for, sorted.
func (e *Entity) Properties() []string {
	out := make([]string, 0, len(e.series))
	for p := range e.series {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Realization is one complete simulated scenario within an ensemble.
type Realization struct {
	ID string

	// Meta holds scalar metadata such as derived indicators.
	Meta map[string]float64

	entities map[string]*Entity
}

// NewRealization creates an empty realization.
func NewRealization(id string) *Realization {
	return &Realization{
		ID:       id,
		Meta:     make(map[string]float64),
		entities: make(map[string]*Entity),
	}
}

// AddEntity registers an entity, replacing any previous one with the same id.
func (r *Realization) AddEntity(e *Entity) {
	e.Realization = r.ID
	r.entities[e.ID] = e
}

// Entity returns the entity with the given id or ErrNotFound.
func (r *Realization) Entity(id string) (*Entity, error) {
	e, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %q in realization %q: %w", id, r.ID, ErrNotFound)
	}
	return e, nil
}

// EntityIDs returns all entity identifiers, sorted.
func (r *Realization) EntityIDs() []string {
	out := make([]string, 0, len(r.entities))
	for id := range r.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EntitiesOfType returns the entities matching the given type, sorted by id.
func (r *Realization) EntitiesOfType(typ EntityType) []*Entity {
	var out []*Entity
	for _, id := range r.EntityIDs() {
		if e := r.entities[id]; e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
