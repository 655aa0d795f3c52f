// Package pointcloud defines a point cloud, a few ways of producing one, and the occupancy octree built on top of it
// that motion planning uses as its obstacle map.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
	count                  int
}

// NewMetaData creates a new MetaData whose bounds grow as points are merged.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the bounds and centroid accumulators with a new point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil && data.HasValue() {
		meta.HasValue = true
	}
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
	meta.count++
}

// Center returns the centroid of the merged points.
func (meta *MetaData) Center() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	n := float64(meta.count)
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// MaxSideLength is the largest extent of the bounding box along any axis.
func (meta *MetaData) MaxSideLength() float64 {
	if meta.count == 0 {
		return 0
	}
	return math.Max(meta.MaxX-meta.MinX, math.Max(meta.MaxY-meta.MinY, meta.MaxZ-meta.MinZ))
}

// BoxCenter returns the center of the bounding box of the merged points.
func (meta *MetaData) BoxCenter() r3.Vector {
	if meta.count == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: (meta.MinX + meta.MaxX) / 2, Y: (meta.MinY + meta.MaxY) / 2, Z: (meta.MinZ + meta.MaxZ) / 2}
}

// PointCloud is a general purpose container of points. It does not dictate whether or not the cloud is sparse or
// dense.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up the work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// CloudContains is a silly helper method.
func CloudContains(cloud PointCloud, x, y, z float64) bool {
	_, got := cloud.At(x, y, z)
	return got
}
