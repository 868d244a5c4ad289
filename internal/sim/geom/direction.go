package geom

import "fmt"

// Direction is one of the four cardinal directions on the routing plane.
type Direction uint8

const (
	North Direction = iota // -Z
	East                   // +X
	South                  // +Z
	West                   // -X
)

const NumDirections = 4

var Directions = [NumDirections]Direction{North, East, South, West}

var dirNames = [NumDirections]string{"N", "E", "S", "W"}

var dirOffsets = [NumDirections]Vec3i{
	North: {Z: -1},
	East:  {X: 1},
	South: {Z: 1},
	West:  {X: -1},
}

func (d Direction) Valid() bool { return d < NumDirections }

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return dirNames[d]
}

func (d Direction) Inverse() Direction { return (d + 2) % NumDirections }

// Right rotates clockwise (N -> E).
func (d Direction) Right() Direction { return (d + 1) % NumDirections }

// Left rotates counter-clockwise (N -> W).
func (d Direction) Left() Direction { return (d + 3) % NumDirections }

// Next is the round-robin successor. Same as Right, named for routing code.
func (d Direction) Next() Direction { return d.Right() }

func (d Direction) Offset() Vec3i { return dirOffsets[d%NumDirections] }

func (d Direction) Flag() DirFlags { return DirFlags(1) << d }

func ParseDirection(s string) (Direction, error) {
	for i, n := range dirNames {
		if s == n {
			return Direction(i), nil
		}
	}
	switch s {
	case "NORTH":
		return North, nil
	case "EAST":
		return East, nil
	case "SOUTH":
		return South, nil
	case "WEST":
		return West, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// DirectionBetween returns the direction that leads from a to b when the tiles are adjacent.
func DirectionBetween(a, b Vec3i) (Direction, bool) {
	if !Adjacent(a, b) {
		return 0, false
	}
	for _, d := range Directions {
		if a.Step(d) == b {
			return d, true
		}
	}
	return 0, false
}

// DirFlags is a compact set of directions (bit i = Direction(i)).
type DirFlags uint8

const AllDirs DirFlags = 0x0F

func (f DirFlags) Has(d Direction) bool         { return f&d.Flag() != 0 }
func (f DirFlags) With(d Direction) DirFlags    { return f | d.Flag() }
func (f DirFlags) Without(d Direction) DirFlags { return f &^ d.Flag() }
func (f DirFlags) Empty() bool                  { return f&AllDirs == 0 }

func (f DirFlags) Count() int {
	n := 0
	for _, d := range Directions {
		if f.Has(d) {
			n++
		}
	}
	return n
}

// Each visits the set directions in N, E, S, W order.
func (f DirFlags) Each(fn func(d Direction)) {
	for _, d := range Directions {
		if f.Has(d) {
			fn(d)
		}
	}
}

func (f DirFlags) String() string {
	if f.Empty() {
		return "-"
	}
	s := ""
	f.Each(func(d Direction) { s += d.String() })
	return s
}
