package objdet

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned box in image pixel units.
// X and Y point to the top-left corner.
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

// Area returns width*height. Negative sides count as zero.
func (r Rectangle) Area() float64 {
	return maxFloat64(0, r.Width) * maxFloat64(0, r.Height)
}

// Empty reports whether the rectangle has zero area
func (r Rectangle) Empty() bool {
	return r.Area() == 0
}

// Center returns the center point of the rectangle
func (r Rectangle) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

// Intersect returns the largest rectangle contained by both r and other.
// If they do not overlap the zero-sized rectangle is returned.
func (r Rectangle) Intersect(other Rectangle) Rectangle {
	xA := maxFloat64(r.X, other.X)
	yA := maxFloat64(r.Y, other.Y)
	xB := minFloat64(r.X+r.Width, other.X+other.Width)
	yB := minFloat64(r.Y+r.Height, other.Y+other.Height)
	if xB <= xA || yB <= yA {
		return Rectangle{}
	}
	return Rectangle{
		X:      xA,
		Y:      yA,
		Width:  xB - xA,
		Height: yB - yA,
	}
}

// Touches reports whether r and other share at least one point (edges included).
func (r Rectangle) Touches(other Rectangle) bool {
	return r.X <= other.X+other.Width && other.X <= r.X+r.Width &&
		r.Y <= other.Y+other.Height && other.Y <= r.Y+r.Height
}

// ToImage converts the rectangle into image.Rectangle (coordinates are rounded)
func (r Rectangle) ToImage() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)),
		int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)),
		int(math.Round(r.Y+r.Height)),
	)
}

// OverlapRatio returns the intersection area relative to the area of BOTH rectangles:
// min(inter/area(a), inter/area(b)). A large box fully covering a tiny one still scores low.
// Degenerate rectangles and disjoint pairs give 0.
func OverlapRatio(a, b Rectangle) float64 {
	areaA := a.Area()
	areaB := b.Area()
	if areaA == 0 || areaB == 0 {
		return 0.0
	}
	interArea := a.Intersect(b).Area()
	if interArea == 0 {
		return 0.0
	}
	return minFloat64(interArea/areaA, interArea/areaB)
}

// IoU calculates Intersection over Union between two rectangles.
func IoU(r1, r2 Rectangle) float64 {
	interArea := r1.Intersect(r2).Area()
	if interArea == 0 {
		return 0.0
	}
	return interArea / (r1.Area() + r2.Area() - interArea)
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}
