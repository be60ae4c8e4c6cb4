package enviz

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/enviz-project/enviz/internal/mproj"
)

// ProjectionStrategy selects how per-timestep distance matrices become 2D
// coordinates.
type ProjectionStrategy string

const (
	// StrategyMDS projects every timestep independently by full
	// multidimensional scaling, Procrustes-stabilized against the previous
	// frame.
	StrategyMDS ProjectionStrategy = "mds"
	// StrategyLAMP projects a small control sample by MDS and maps the
	// remaining realizations through a locally affine extension.
	StrategyLAMP ProjectionStrategy = "lamp"
	// StrategyTLLAMP is LAMP with the control targets regularized toward
	// the previous frame for temporally coherent animation.
	StrategyTLLAMP ProjectionStrategy = "tllamp"
)

// Coord is a projected 2D position.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ProjectionFrame holds the projection of one timestep. Coordinates have no
// fixed scale; they are meaningful relative to each other within the frame
// and, for stabilized strategies, across adjacent frames.
type ProjectionFrame struct {
	Step int     `json:"step"`
	Time float64 `json:"time"`
	// Defined is false when fewer than two realizations had defined
	// distances at this timestep; such frames render as gaps.
	Defined bool             `json:"defined"`
	Coords  map[string]Coord `json:"coords,omitempty"`
	// Stress is the achieved MDS stress of the frame (for LAMP variants,
	// of the control sample).
	Stress float64 `json:"stress"`
}

// ProjectionResult is the ordered frame sequence for one request.
type ProjectionResult struct {
	Strategy ProjectionStrategy `json:"strategy"`
	Request  DistanceRequest    `json:"request"`
	Frames   []ProjectionFrame  `json:"frames"`
}

// ProjectionEngine turns the distance engine's output into per-timestep 2D
// coordinates with a choice of strategy. Like the distance engine it keeps
// its most recent result for re-entrant view queries.
type ProjectionEngine struct {
	distance *DistanceEngine
	cfg      ProjectionConfig
	cache    *resultCache

	// mu serializes Compute and Invalidate against concurrent scheduler
	// workers.
	mu      sync.Mutex
	lastKey string
	last    *ProjectionResult
}

// NewProjectionEngine creates a projection engine on top of a distance
// engine. cache may be nil.
func NewProjectionEngine(de *DistanceEngine, cfg ProjectionConfig, cache *resultCache) *ProjectionEngine {
	return &ProjectionEngine{distance: de, cfg: cfg, cache: cache}
}

// Invalidate drops cached projections. Call after mutating the ensemble.
func (pe *ProjectionEngine) Invalidate() {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.lastKey = ""
	pe.last = nil
	if pe.cache != nil {
		pe.cache.invalidatePrefix("proj")
	}
}

func (pe *ProjectionEngine) fingerprint(req DistanceRequest, strategy ProjectionStrategy) string {
	raw := fmt.Sprintf("%s|%s|%d|%d|%g|%g|%g|%v",
		strategy, req.fingerprint(), pe.cfg.SampleSize, pe.cfg.MaxIterations,
		pe.cfg.Epsilon, pe.cfg.LampTolerance, pe.cfg.TemporalBlend, pe.cfg.ControlIDs)
	return "proj" + fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

// Compute produces one frame per timestep of the request window using the
// given strategy. Timesteps where fewer than two realizations have defined
// distances yield undefined frames rather than degenerate coordinates.
func (pe *ProjectionEngine) Compute(ctx context.Context, req DistanceRequest, strategy ProjectionStrategy) (*ProjectionResult, error) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	key := pe.fingerprint(req, strategy)
	if pe.last != nil && key == pe.lastKey {
		return pe.last, nil
	}
	if pe.cache != nil {
		var cached ProjectionResult
		if pe.cache.get(key, &cached) {
			pe.lastKey, pe.last = key, &cached
			return &cached, nil
		}
	}

	dist, err := pe.distance.Compute(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &ProjectionResult{Strategy: strategy, Request: req}
	var prev *ProjectionFrame
	for _, m := range dist.Matrices {
		if err := ctx.Err(); err != nil {
			return nil, &ComputeError{Stage: "projection", Message: "cancelled", Cause: ErrSuperseded}
		}
		frame, err := pe.projectFrame(m, strategy, prev)
		if err != nil {
			return nil, err
		}
		res.Frames = append(res.Frames, frame)
		if frame.Defined {
			f := frame
			prev = &f
		}
	}

	pe.lastKey, pe.last = key, res
	if pe.cache != nil {
		pe.cache.put(key, res)
	}
	return res, nil
}

func (pe *ProjectionEngine) projectFrame(m *DistanceMatrix, strategy ProjectionStrategy, prev *ProjectionFrame) (ProjectionFrame, error) {
	frame := ProjectionFrame{Step: m.Step, Time: m.Time}
	active := m.ActiveIndices()
	if len(active) < 2 {
		return frame, nil
	}

	ids := make([]string, len(active))
	for i, idx := range active {
		ids[i] = m.IDs[idx]
	}

	var coords *mat.Dense
	var stress float64
	var err error
	switch strategy {
	case StrategyLAMP, StrategyTLLAMP:
		coords, stress, err = pe.lampFrame(m, active, ids, strategy, prev)
	default:
		coords, stress, err = pe.mdsFrame(m, active, ids, prev)
	}
	if err != nil {
		return frame, err
	}

	frame.Defined = true
	frame.Stress = stress
	frame.Coords = make(map[string]Coord, len(ids))
	for i, id := range ids {
		frame.Coords[id] = Coord{X: coords.At(i, 0), Y: coords.At(i, 1)}
	}
	return frame, nil
}

// mdsFrame runs full MDS on the active submatrix and stabilizes the result
// against the previous frame.
func (pe *ProjectionEngine) mdsFrame(m *DistanceMatrix, active []int, ids []string, prev *ProjectionFrame) (*mat.Dense, float64, error) {
	d := subMatrix(m, active)
	coords, stress, err := pe.runMDS(d)
	if err != nil {
		return nil, 0, err
	}
	coords = stabilize(coords, ids, prev)
	return coords, stress, nil
}

// lampFrame projects the control sample by MDS and extends to all active
// realizations through the locally affine mapping. For TL-LAMP the control
// targets are blended with the previous frame's positions.
func (pe *ProjectionEngine) lampFrame(m *DistanceMatrix, active []int, ids []string, strategy ProjectionStrategy, prev *ProjectionFrame) (*mat.Dense, float64, error) {
	control := pe.controlIndices(ids)
	ctrlActive := make([]int, len(control))
	ctrlIDs := make([]string, len(control))
	for i, c := range control {
		ctrlActive[i] = active[c]
		ctrlIDs[i] = ids[c]
	}

	d := subMatrix(m, ctrlActive)
	ys, stress, err := pe.runMDS(d)
	if err != nil {
		return nil, 0, err
	}
	ys = stabilize(ys, ctrlIDs, prev)

	if strategy == StrategyTLLAMP && prev != nil {
		blend := pe.cfg.TemporalBlend
		for i, id := range ctrlIDs {
			pc, ok := prev.Coords[id]
			if !ok {
				continue
			}
			ys.Set(i, 0, blend*ys.At(i, 0)+(1-blend)*pc.X)
			ys.Set(i, 1, blend*ys.At(i, 1)+(1-blend)*pc.Y)
		}
	}

	// Feature vectors, zero-padded to at least the projection dimension
	// and with absent components zeroed; the distances driving the weights
	// already accounted for absence.
	width := len(m.Vectors[active[0]])
	if width < 2 {
		width = 2
	}
	x := mat.NewDense(len(active), width, nil)
	for i, idx := range active {
		for k, v := range m.Vectors[idx] {
			if !IsAbsent(v) {
				x.Set(i, k, v)
			}
		}
	}
	xs := mat.NewDense(len(control), width, nil)
	for i, c := range control {
		for k := 0; k < width; k++ {
			xs.Set(i, k, x.At(c, k))
		}
	}

	coords, err := mproj.LAMP(x, xs, ys, pe.cfg.LampTolerance)
	if err != nil {
		return nil, 0, &ComputeError{Stage: "projection", Message: "affine mapping", Cause: err}
	}
	// Control points map exactly onto their own projections.
	for i, c := range control {
		coords.Set(c, 0, ys.At(i, 0))
		coords.Set(c, 1, ys.At(i, 1))
	}
	return coords, stress, nil
}

// runMDS is classical scaling refined by SMACOF majorization.
func (pe *ProjectionEngine) runMDS(d *mat.SymDense) (*mat.Dense, float64, error) {
	init, err := mproj.Classical(d, 2)
	if err != nil {
		return nil, 0, &ComputeError{Stage: "projection", Message: "classical scaling", Cause: err}
	}
	coords, stress, _ := mproj.SMACOF(d, init, pe.cfg.MaxIterations, pe.cfg.Epsilon)
	return coords, stress, nil
}

// controlIndices picks the control sample within ids (indices into ids).
// Caller-driven ControlIDs win; otherwise the sample is evenly spaced over
// the sorted ids, which is deterministic across frames.
func (pe *ProjectionEngine) controlIndices(ids []string) []int {
	n := len(ids)
	if len(pe.cfg.ControlIDs) > 0 {
		wanted := make(map[string]struct{}, len(pe.cfg.ControlIDs))
		for _, id := range pe.cfg.ControlIDs {
			wanted[id] = struct{}{}
		}
		var out []int
		for i, id := range ids {
			if _, ok := wanted[id]; ok {
				out = append(out, i)
			}
		}
		if len(out) >= 2 {
			return out
		}
		// Caller sample too small at this timestep; fall through to the
		// automatic choice.
	}

	m := pe.cfg.SampleSize
	if m <= 0 {
		m = int(math.Ceil(math.Sqrt(float64(n))))
	}
	if m < 2 {
		m = 2
	}
	if m > n {
		m = n
	}
	out := make([]int, m)
	if m == n {
		for i := range out {
			out[i] = i
		}
		return out
	}
	step := float64(n-1) / float64(m-1)
	for i := range out {
		out[i] = int(math.Round(float64(i) * step))
	}
	return out
}

// subMatrix extracts the active×active distance submatrix.
func subMatrix(m *DistanceMatrix, active []int) *mat.SymDense {
	k := len(active)
	d := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			v, _ := m.At(active[i], active[j])
			d.SetSym(i, j, v)
		}
	}
	return d
}

// stabilize rigidly aligns coords to the previous frame using the
// realizations present in both, leaving coords unchanged when there is no
// usable overlap.
func stabilize(coords *mat.Dense, ids []string, prev *ProjectionFrame) *mat.Dense {
	if prev == nil {
		return coords
	}
	var commonIdx []int
	for i, id := range ids {
		if _, ok := prev.Coords[id]; ok {
			commonIdx = append(commonIdx, i)
		}
	}
	if len(commonIdx) < 2 {
		return coords
	}
	ref := mat.NewDense(len(commonIdx), 2, nil)
	cur := mat.NewDense(len(commonIdx), 2, nil)
	for r, i := range commonIdx {
		pc := prev.Coords[ids[i]]
		ref.Set(r, 0, pc.X)
		ref.Set(r, 1, pc.Y)
		cur.Set(r, 0, coords.At(i, 0))
		cur.Set(r, 1, coords.At(i, 1))
	}
	rigid, err := mproj.FitRigid(ref, cur)
	if err != nil {
		return coords
	}
	return rigid.Apply(coords)
}
