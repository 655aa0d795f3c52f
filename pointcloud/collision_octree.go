package pointcloud

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/trajopt/spatialmath"
)

// CollisionOctree is an occupancy map for motion planning with a BasicOctree as its backbone. Every occupied point
// is a sphere of radius pointRadius, and only points whose value reaches confidenceThreshold count as obstacles.
type CollisionOctree struct {
	*BasicOctree
	confidenceThreshold int
	pointRadius         float64
	label               string
}

// NewCollisionOctree creates a new empty collision octree with specified center, side, confidenceThreshold, and
// obstacle radius per point.
func NewCollisionOctree(center r3.Vector, sideLength float64, confidenceThreshold int, pointRadius float64) (*CollisionOctree, error) {
	if pointRadius <= 0 {
		return nil, errors.Errorf("invalid point radius (%.4f) for collision octree", pointRadius)
	}
	basicOct, err := NewBasicOctree(center, sideLength)
	if err != nil {
		return nil, err
	}
	return &CollisionOctree{BasicOctree: basicOct, confidenceThreshold: confidenceThreshold, pointRadius: pointRadius}, nil
}

// NewCollisionOctreeFromCloud voxelizes the cloud at the given resolution: every occupied voxel becomes one point at
// the voxel center holding the largest value of the points inside it, with a sphere of half the resolution around it.
func NewCollisionOctreeFromCloud(cloud PointCloud, resolution float64, confidenceThreshold int) (*CollisionOctree, error) {
	if resolution <= 0 {
		return nil, errors.Errorf("invalid octree resolution (%.4f)", resolution)
	}
	voxels := map[[3]int64]int{}
	keyOf := func(v float64) int64 { return int64(math.Round(v / resolution)) }
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		key := [3]int64{keyOf(p.X), keyOf(p.Y), keyOf(p.Z)}
		if v, ok := voxels[key]; !ok || dataValue(d) > v {
			voxels[key] = dataValue(d)
		}
		return true
	})

	meta := cloud.MetaData()
	side := meta.MaxSideLength() + 2*resolution
	oct, err := NewCollisionOctree(meta.BoxCenter(), side, confidenceThreshold, resolution/2)
	if err != nil {
		return nil, err
	}
	for key, value := range voxels {
		center := r3.Vector{X: float64(key[0]) * resolution, Y: float64(key[1]) * resolution, Z: float64(key[2]) * resolution}
		if err := oct.Set(center, NewValueData(value)); err != nil {
			return nil, err
		}
	}
	return oct, nil
}

// PointRadius returns the radius of the sphere around each occupied point.
func (cOct *CollisionOctree) PointRadius() float64 {
	return cOct.pointRadius
}

// Pose returns the pose of the octree.
func (cOct *CollisionOctree) Pose() spatialmath.Pose {
	return spatialmath.NewPoseFromPoint(cOct.center)
}

// BoundingRadius is the radius of a sphere at the octree center enclosing every obstacle sphere.
func (cOct *CollisionOctree) BoundingRadius() float64 {
	return cOct.sideLength*math.Sqrt(3)/2 + cOct.pointRadius
}

// Transform returns a new octree with every point moved by the given pose.
func (cOct *CollisionOctree) Transform(p spatialmath.Pose) spatialmath.Geometry {
	if spatialmath.PoseAlmostEqual(p, spatialmath.NewZeroPose()) {
		return cOct
	}
	// the rotated bounds still fit in a cube of side √3 times larger
	moved, err := NewCollisionOctree(spatialmath.TransformPoint(p, cOct.center), cOct.sideLength*math.Sqrt(3),
		cOct.confidenceThreshold, cOct.pointRadius)
	if err != nil {
		return cOct
	}
	moved.label = cOct.label
	cOct.Iterate(0, 0, func(pt r3.Vector, d Data) bool {
		err = moved.Set(spatialmath.TransformPoint(p, pt), d)
		return err == nil
	})
	return moved
}

// CollidesWith checks if the given geometry is within buffer of any occupied point.
func (cOct *CollisionOctree) CollidesWith(geom spatialmath.Geometry, buffer float64) (bool, error) {
	dist, err := cOct.distanceFrom(geom, buffer)
	if err != nil {
		return true, err
	}
	return dist <= buffer, nil
}

// DistanceFrom returns the signed distance from the geometry to the nearest occupied point sphere, or +Inf when the
// octree holds no obstacles.
func (cOct *CollisionOctree) DistanceFrom(geom spatialmath.Geometry) (float64, error) {
	return cOct.distanceFrom(geom, math.Inf(-1))
}

// distanceFrom searches for the closest obstacle, stopping early once one is found at or below stopAt.
func (cOct *CollisionOctree) distanceFrom(geom spatialmath.Geometry, stopAt float64) (float64, error) {
	best := math.Inf(1)
	err := cOct.search(cOct.BasicOctree, geom, &best, stopAt)
	return best, err
}

func (cOct *CollisionOctree) search(node *BasicOctree, geom spatialmath.Geometry, best *float64, stopAt float64) error {
	if node.node.maxVal < cOct.confidenceThreshold || *best <= stopAt {
		return nil
	}
	switch node.node.nodeType {
	case internalNode:
		// the distance to a sphere enclosing the whole node bounds the distance to anything inside it
		bound, err := spatialmath.NewSphere(spatialmath.NewPoseFromPoint(node.center),
			node.sideLength*math.Sqrt(3)/2+cOct.pointRadius, "")
		if err != nil {
			return err
		}
		lower, err := geom.DistanceFrom(bound)
		if err != nil {
			return err
		}
		if lower >= *best {
			return nil
		}
		for _, child := range node.node.children {
			if err := cOct.search(child, geom, best, stopAt); err != nil {
				return err
			}
		}
	case leafNodeFilled:
		pt, err := spatialmath.NewSphere(spatialmath.NewPoseFromPoint(node.node.point.P), cOct.pointRadius, cOct.label)
		if err != nil {
			return err
		}
		dist, err := geom.DistanceFrom(pt)
		if err != nil {
			return err
		}
		*best = math.Min(*best, dist)
	case leafNodeEmpty:
	}
	return nil
}

// Obstacles returns the occupied points that count as obstacles.
func (cOct *CollisionOctree) Obstacles() []r3.Vector {
	pts := []r3.Vector{}
	cOct.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if dataValue(d) >= cOct.confidenceThreshold {
			pts = append(pts, p)
		}
		return true
	})
	return pts
}

// SetLabel sets the label of this octree.
func (cOct *CollisionOctree) SetLabel(label string) {
	cOct.label = label
}

// Label returns the label of this octree.
func (cOct *CollisionOctree) Label() string {
	return cOct.label
}

// String returns a human readable string that represents this octree.
func (cOct *CollisionOctree) String() string {
	return fmt.Sprintf("octree with center at %v, side length %v and %d points", cOct.center, cOct.sideLength, cOct.size)
}
