package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// NewCubeCloud returns a solid grid of perPoint³ points spaced `spacing` apart, with its first corner at `corner`.
// Each point carries the given occupancy value.
func NewCubeCloud(corner r3.Vector, perSide int, spacing float64, value int) (PointCloud, error) {
	if perSide <= 0 || spacing <= 0 {
		return nil, errors.Errorf("invalid cube dimensions: %d points per side at %.4f spacing", perSide, spacing)
	}
	pc := NewWithPrealloc(perSide * perSide * perSide)
	for i := 0; i < perSide; i++ {
		for j := 0; j < perSide; j++ {
			for k := 0; k < perSide; k++ {
				p := corner.Add(r3.Vector{X: float64(i) * spacing, Y: float64(j) * spacing, Z: float64(k) * spacing})
				if err := pc.Set(p, NewValueData(value)); err != nil {
					return nil, err
				}
			}
		}
	}
	return pc, nil
}

// NewCubeCloudCentered is NewCubeCloud with the grid centered on `center`.
func NewCubeCloudCentered(center r3.Vector, perSide int, spacing float64, value int) (PointCloud, error) {
	half := float64(perSide-1) * spacing / 2
	return NewCubeCloud(center.Sub(r3.Vector{X: half, Y: half, Z: half}), perSide, spacing, value)
}
