package collision

import (
	"math"

	"github.com/pkg/errors"

	"github.com/viam-labs/trajopt/spatialmath"
)

// Clearance is the closest approach of one collision link to anything it may not touch. Distance is +Inf when
// there is nothing to collide with.
type Clearance struct {
	Link     string
	Other    string
	Distance float64
}

// body is a named group of world-frame geometries. Attached bodies record their parent link.
type body struct {
	name   string
	parent string
	geoms  []spatialmath.Geometry
}

// LinkClearances returns one Clearance per collision link of the manipulator, in LinkNames order, for joint vector q.
func (env *Environment) LinkClearances(manipName string, q []float64) ([]Clearance, error) {
	return env.clearances(manipName, q, nil)
}

// SweptLinkClearances is LinkClearances for the linear motion from q0 to q1: each link is checked through the hull
// of its two placements.
func (env *Environment) SweptLinkClearances(manipName string, q0, q1 []float64) ([]Clearance, error) {
	if q1 == nil {
		return nil, errors.New("swept clearances need an end state")
	}
	return env.clearances(manipName, q0, q1)
}

func (env *Environment) clearances(manipName string, q0, q1 []float64) ([]Clearance, error) {
	out := []Clearance{}
	index := map[string]int{}
	err := env.visitPairs(manipName, q0, q1, func(link, other string, dist float64) {
		i, ok := index[link]
		if !ok {
			i = len(out)
			index[link] = i
			out = append(out, Clearance{Link: link, Distance: math.Inf(1)})
		}
		if dist < out[i].Distance {
			out[i].Other = other
			out[i].Distance = dist
		}
	})
	return out, err
}

// visitPairs calls fn for every collision link of the manipulator and every body it may not touch, with their signed
// distance. Every link is visited at least once, with other == "" and +Inf distance when nothing is nearby. A nil q1
// checks the single state q0; otherwise the motion from q0 to q1 is checked.
func (env *Environment) visitPairs(manipName string, q0, q1 []float64, fn func(link, other string, dist float64)) error {
	env.mu.RLock()
	defer env.mu.RUnlock()

	m, ok := env.manipulators[manipName]
	if !ok {
		return errors.Errorf("no manipulator named %q", manipName)
	}
	bodies0, err := env.placeBodies(m, q0)
	if err != nil {
		return err
	}
	bodies1 := bodies0
	if q1 != nil {
		if bodies1, err = env.placeBodies(m, q1); err != nil {
			return err
		}
	}
	statics, err := env.staticBodies(m)
	if err != nil {
		return err
	}

	for i, b := range bodies0 {
		targets := statics
		if b.parent == "" {
			// the manipulator's own attached bodies, at both ends of the motion
			for j, a := range bodies0 {
				if a.parent == "" || a.parent == b.name {
					continue
				}
				geoms := a.geoms
				if q1 != nil {
					geoms = append(append([]spatialmath.Geometry{}, a.geoms...), bodies1[j].geoms...)
				}
				targets = append(targets[:len(targets):len(targets)], body{name: a.name, geoms: geoms})
			}
		}

		moving := b.geoms
		if q1 != nil {
			moving = make([]spatialmath.Geometry, len(b.geoms))
			for k, g := range b.geoms {
				sv, err := spatialmath.NewSweptVolume(g, bodies1[i].geoms[k])
				if err != nil {
					// composite geometries such as octrees have no hull; they are checked at both ends
					if _, seen := env.unswept.LoadOrStore(b.name, true); !seen {
						env.logger.Warnw("body is checked only at the ends of each motion", "body", b.name, "error", err)
					}
					moving[k] = g
					moving = append(moving, bodies1[i].geoms[k])
					continue
				}
				moving[k] = sv
			}
		}

		visited := false
		for _, t := range targets {
			if env.collisionAllowed(b.name, t.name) {
				continue
			}
			dist, err := bodyDistance(moving, t.geoms)
			if err != nil {
				return errors.Wrapf(err, "distance between %q and %q", b.name, t.name)
			}
			fn(b.name, t.name, dist)
			visited = true
		}
		if !visited {
			fn(b.name, "", math.Inf(1))
		}
	}
	return nil
}

// bodyDistance is the smallest distance between any moving geometry and any target geometry.
func bodyDistance(moving, targets []spatialmath.Geometry) (float64, error) {
	best := math.Inf(1)
	for _, g := range moving {
		for _, t := range targets {
			d, err := geometryDistance(g, t)
			if err != nil {
				return 0, err
			}
			if math.IsNaN(d) {
				return 0, errors.Errorf("distance between %v and %v is not a number", g, t)
			}
			best = math.Min(best, d)
		}
	}
	return best, nil
}

// geometryDistance asks the target first since composite obstacles like octrees know how to measure anything.
func geometryDistance(g, target spatialmath.Geometry) (float64, error) {
	d, err := target.DistanceFrom(g)
	if err == nil {
		return d, nil
	}
	if d, errOther := g.DistanceFrom(target); errOther == nil {
		return d, nil
	}
	return 0, err
}

// placeBodies returns the collision links of the manipulator at q, in LinkNames order. Must be called with the read
// lock held.
func (env *Environment) placeBodies(m *manipulator, q []float64) ([]body, error) {
	if len(q) != len(m.model.DoF()) {
		return nil, errors.Errorf("joint vector has %d values, manipulator %q has %d joints", len(q), m.model.Name(), len(m.model.DoF()))
	}
	geometries, err := m.linkGeometries(q)
	if err != nil {
		return nil, err
	}
	poses, err := m.linkPoses(q)
	if err != nil {
		return nil, err
	}
	bodies := []body{}
	for _, name := range m.model.LinkNames() {
		if g, ok := geometries[name]; ok {
			bodies = append(bodies, body{name: name, geoms: []spatialmath.Geometry{g}})
		}
	}
	for _, name := range sortedKeys(env.attached) {
		info := env.attached[name]
		parentPose, ok := poses[info.ParentLink]
		if !ok {
			continue
		}
		objectPose := spatialmath.Compose(parentPose, info.Transform)
		obj := env.attachable[name]
		geoms := make([]spatialmath.Geometry, 0, len(obj.Geometries))
		for _, g := range obj.Geometries {
			geoms = append(geoms, g.Transform(objectPose))
		}
		bodies = append(bodies, body{name: name, parent: info.ParentLink, geoms: geoms})
	}
	return bodies, nil
}

// staticBodies returns everything that does not move with the manipulator: world obstacles, and the other
// manipulators with their attached bodies at their current state. Must be called with the read lock held.
func (env *Environment) staticBodies(exclude *manipulator) ([]body, error) {
	bodies := []body{}
	for _, name := range sortedKeys(env.obstacles) {
		bodies = append(bodies, body{name: name, geoms: []spatialmath.Geometry{env.obstacles[name]}})
	}
	for _, name := range sortedKeys(env.manipulators) {
		m := env.manipulators[name]
		if m == exclude {
			continue
		}
		placed, err := env.placeBodies(m, m.current)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, placed...)
	}
	return bodies, nil
}
