package geom

import "sort"

// Vec3i is a tile position. X/Z is the routing plane; Y is the stacking layer.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Step returns the neighbouring tile in direction d.
func (v Vec3i) Step(d Direction) Vec3i { return v.Add(d.Offset()) }

func Manhattan(a, b Vec3i) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y) + abs(a.Z-b.Z)
}

// Adjacent reports whether a and b share an edge on the same layer.
func Adjacent(a, b Vec3i) bool {
	return a.Y == b.Y && Manhattan(a, b) == 1
}

// Less orders positions by X, then Y, then Z.
func Less(a, b Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func SortPositions(ps []Vec3i) {
	sort.Slice(ps, func(i, j int) bool { return Less(ps[i], ps[j]) })
}

func SortedPositions[T any](m map[Vec3i]T) []Vec3i {
	if len(m) == 0 {
		return nil
	}
	out := make([]Vec3i, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	SortPositions(out)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
