package geometry

import (
	"errors"
	"math"

	"github.com/detailhub/zoneconfigurator/model"
)

// TargetSize is the length of the longest side of every normalized model.
const TargetSize = 4.0

// ErrDegenerateBounds is returned for boxes with no extent.
var ErrDegenerateBounds = errors.New("geometry: degenerate bounding box")

// AABB is an axis-aligned bounding box. The zero value is empty.
type AABB struct {
	Min   model.Vec3
	Max   model.Vec3
	valid bool
}

// NewAABB returns a box spanning lo and hi.
func NewAABB(lo, hi model.Vec3) AABB {
	return AABB{Min: lo, Max: hi, valid: true}
}

// Empty reports whether no point has been added.
func (b AABB) Empty() bool {
	return !b.valid
}

// Expand returns b grown to contain p.
func (b AABB) Expand(p model.Vec3) AABB {
	if !b.valid {
		return AABB{Min: p, Max: p, valid: true}
	}
	b.Min = model.Vec3{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
	b.Max = model.Vec3{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	return b
}

// Size returns the extent along each axis.
func (b AABB) Size() model.Vec3 {
	if !b.valid {
		return model.Vec3{}
	}
	return model.Vec3{X: b.Max.X - b.Min.X, Y: b.Max.Y - b.Min.Y, Z: b.Max.Z - b.Min.Z}
}

// Center returns the midpoint of the box.
func (b AABB) Center() model.Vec3 {
	if !b.valid {
		return model.Vec3{}
	}
	return model.Vec3{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2, Z: (b.Min.Z + b.Max.Z) / 2}
}

// NormalizeBounds derives the uniform scale that makes the longest side of
// the box TargetSize long, and the box size under that scale.
func NormalizeBounds(b AABB) (model.Bounds, error) {
	if b.Empty() {
		return model.Bounds{}, ErrDegenerateBounds
	}
	size := b.Size()
	longest := math.Max(size.X, math.Max(size.Y, size.Z))
	if !(longest > 0) || math.IsInf(longest, 0) {
		return model.Bounds{}, ErrDegenerateBounds
	}
	scale := TargetSize / longest
	return model.Bounds{
		Size:   size,
		Center: b.Center(),
		Scale:  scale,
		Scaled: size.Scale(scale),
	}, nil
}
