package geom

// Box is an axis-aligned region of tiles; Min and Max are both inclusive.
type Box struct {
	Min Vec3i
	Max Vec3i
}

func TileBox(p Vec3i) Box { return Box{Min: p, Max: p} }

// BoxAt builds a footprint anchored at origin spanning w tiles on X and d tiles on Z.
func BoxAt(origin Vec3i, w, d int) Box {
	if w < 1 {
		w = 1
	}
	if d < 1 {
		d = 1
	}
	return Box{Min: origin, Max: Vec3i{X: origin.X + w - 1, Y: origin.Y, Z: origin.Z + d - 1}}
}

func (b Box) Normalize() Box {
	if b.Min.X > b.Max.X {
		b.Min.X, b.Max.X = b.Max.X, b.Min.X
	}
	if b.Min.Y > b.Max.Y {
		b.Min.Y, b.Max.Y = b.Max.Y, b.Min.Y
	}
	if b.Min.Z > b.Max.Z {
		b.Min.Z, b.Max.Z = b.Max.Z, b.Min.Z
	}
	return b
}

func (b Box) Intersects(o Box) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

func (b Box) Contains(p Vec3i) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Tiles lists every tile of the box in X, Y, Z order.
func (b Box) Tiles() []Vec3i {
	out := make([]Vec3i, 0, (b.Max.X-b.Min.X+1)*(b.Max.Y-b.Min.Y+1)*(b.Max.Z-b.Min.Z+1))
	for x := b.Min.X; x <= b.Max.X; x++ {
		for y := b.Min.Y; y <= b.Max.Y; y++ {
			for z := b.Min.Z; z <= b.Max.Z; z++ {
				out = append(out, Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// Perimeter lists the tiles outside the box that share an edge with it on the routing plane.
func (b Box) Perimeter() []Vec3i {
	seen := map[Vec3i]struct{}{}
	var out []Vec3i
	for _, t := range b.Tiles() {
		for _, d := range Directions {
			n := t.Step(d)
			if b.Contains(n) {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	SortPositions(out)
	return out
}
