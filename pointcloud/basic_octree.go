package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

type nodeType uint8

const (
	internalNode = nodeType(iota)
	leafNodeEmpty
	leafNodeFilled
)

// minOctreeSide stops subdivision for points closer together than floating point can separate.
const minOctreeSide = 1e-9

type basicOctreeNode struct {
	nodeType nodeType
	children []*BasicOctree
	point    *PointAndData
	maxVal   int
}

// BasicOctree is a data structure that recursively divides a cube into octants, each holding at most one point.
// It implements PointCloud.
type BasicOctree struct {
	node       basicOctreeNode
	center     r3.Vector
	sideLength float64
	size       int
	meta       MetaData
}

// NewBasicOctree creates a new empty octree with the given center and side length.
func NewBasicOctree(center r3.Vector, sideLength float64) (*BasicOctree, error) {
	if sideLength <= 0 {
		return nil, errors.Errorf("invalid side length (%.2f) for octree", sideLength)
	}
	return &BasicOctree{
		node:       newLeafNodeEmpty(),
		center:     center,
		sideLength: sideLength,
		meta:       NewMetaData(),
	}, nil
}

func newLeafNodeEmpty() basicOctreeNode {
	return basicOctreeNode{nodeType: leafNodeEmpty, maxVal: math.MinInt}
}

func newLeafNodeFilled(p r3.Vector, d Data) basicOctreeNode {
	return basicOctreeNode{nodeType: leafNodeFilled, point: &PointAndData{P: p, D: d}, maxVal: dataValue(d)}
}

// Size returns the number of points in the octree.
func (octree *BasicOctree) Size() int {
	return octree.size
}

// MetaData returns the bounds of the points in the octree.
func (octree *BasicOctree) MetaData() MetaData {
	return octree.meta
}

// MaxVal returns the largest value held by any point in the octree, or math.MinInt when it is empty.
func (octree *BasicOctree) MaxVal() int {
	return octree.node.maxVal
}

func (octree *BasicOctree) contains(p r3.Vector) bool {
	half := octree.sideLength / 2
	return math.Abs(p.X-octree.center.X) <= half &&
		math.Abs(p.Y-octree.center.Y) <= half &&
		math.Abs(p.Z-octree.center.Z) <= half
}

// Set adds a point to the octree, replacing the data of an identical point.
func (octree *BasicOctree) Set(p r3.Vector, d Data) error {
	if !octree.contains(p) {
		return errors.Errorf("point %v is outside the octree bounds", p)
	}
	added, err := octree.set(p, d)
	if err != nil {
		return err
	}
	if added {
		octree.meta.Merge(p, d)
	}
	return nil
}

func (octree *BasicOctree) set(p r3.Vector, d Data) (bool, error) {
	switch octree.node.nodeType {
	case leafNodeEmpty:
		octree.node = newLeafNodeFilled(p, d)
		octree.size = 1
		return true, nil
	case leafNodeFilled:
		if octree.node.point.P == p {
			octree.node = newLeafNodeFilled(p, d)
			return false, nil
		}
		if octree.sideLength/2 < minOctreeSide {
			return false, errors.Errorf("cannot separate points %v and %v", octree.node.point.P, p)
		}
		existing := *octree.node.point
		octree.splitIntoOctants()
		if _, err := octree.childFor(existing.P).set(existing.P, existing.D); err != nil {
			return false, err
		}
		octree.node.maxVal = dataValue(existing.D)
	}
	added, err := octree.childFor(p).set(p, d)
	if err != nil {
		return false, err
	}
	if added {
		octree.size++
	}
	if v := dataValue(d); v > octree.node.maxVal {
		octree.node.maxVal = v
	}
	return added, nil
}

func (octree *BasicOctree) splitIntoOctants() {
	quarter := octree.sideLength / 4
	children := make([]*BasicOctree, 0, 8)
	for _, dx := range []float64{-1, 1} {
		for _, dy := range []float64{-1, 1} {
			for _, dz := range []float64{-1, 1} {
				children = append(children, &BasicOctree{
					node:       newLeafNodeEmpty(),
					center:     octree.center.Add(r3.Vector{X: dx * quarter, Y: dy * quarter, Z: dz * quarter}),
					sideLength: octree.sideLength / 2,
					meta:       NewMetaData(),
				})
			}
		}
	}
	octree.node = basicOctreeNode{nodeType: internalNode, children: children, maxVal: math.MinInt}
	octree.size = 1
}

// childFor picks the octant of p, matching the ordering of splitIntoOctants.
func (octree *BasicOctree) childFor(p r3.Vector) *BasicOctree {
	idx := 0
	if p.X >= octree.center.X {
		idx += 4
	}
	if p.Y >= octree.center.Y {
		idx += 2
	}
	if p.Z >= octree.center.Z {
		idx++
	}
	return octree.node.children[idx]
}

// At returns the data of the point at the given position, if it exists.
func (octree *BasicOctree) At(x, y, z float64) (Data, bool) {
	p := r3.Vector{X: x, Y: y, Z: z}
	if !octree.contains(p) {
		return nil, false
	}
	switch octree.node.nodeType {
	case internalNode:
		return octree.childFor(p).At(x, y, z)
	case leafNodeFilled:
		if octree.node.point.P == p {
			return octree.node.point.D, true
		}
	}
	return nil, false
}

// Iterate visits every point. Batching splits the work by point index.
func (octree *BasicOctree) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	lower, upper := 0, octree.size
	if numBatches > 0 {
		batchSize := (octree.size + numBatches - 1) / numBatches
		lower = myBatch * batchSize
		upper = lower + batchSize
	}
	idx := 0
	octree.iterate(func(p r3.Vector, d Data) bool {
		defer func() { idx++ }()
		if idx < lower {
			return true
		}
		if idx >= upper {
			return false
		}
		return fn(p, d)
	})
}

func (octree *BasicOctree) iterate(fn func(p r3.Vector, d Data) bool) bool {
	switch octree.node.nodeType {
	case internalNode:
		for _, child := range octree.node.children {
			if !child.iterate(fn) {
				return false
			}
		}
	case leafNodeFilled:
		return fn(octree.node.point.P, octree.node.point.D)
	}
	return true
}
