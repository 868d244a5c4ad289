// Package spatial buckets tile regions into fixed-size grid cells so placement
// and topology code can ask "what occupies this region" without scanning every owner.
package spatial

import "beltworks.ai/internal/sim/geom"

const DefaultCellSize = 8

type cellKey struct {
	X int
	Y int
	Z int
}

type entry struct {
	box   geom.Box
	cells []cellKey
}

// Index maps grid cells to the owners whose regions overlap them.
// Each owner holds exactly one region at a time. Not safe for concurrent writers.
type Index[T comparable] struct {
	cellSize int
	cells    map[cellKey][]T
	entries  map[T]*entry
}

func New[T comparable](cellSize int) *Index[T] {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Index[T]{
		cellSize: cellSize,
		cells:    make(map[cellKey][]T),
		entries:  make(map[T]*entry),
	}
}

func (idx *Index[T]) Len() int { return len(idx.entries) }

func (idx *Index[T]) CellSize() int { return idx.cellSize }

// Insert registers owner under box. Re-inserting an owner replaces its previous region.
func (idx *Index[T]) Insert(owner T, box geom.Box) {
	box = box.Normalize()
	if e, ok := idx.entries[owner]; ok {
		idx.removeFromCells(owner, e.cells)
	}
	cells := idx.cellsFor(box)
	idx.entries[owner] = &entry{box: box, cells: cells}
	for _, c := range cells {
		idx.cells[c] = append(idx.cells[c], owner)
	}
}

// Remove unregisters owner from every cell it was inserted under.
func (idx *Index[T]) Remove(owner T) bool {
	e, ok := idx.entries[owner]
	if !ok {
		return false
	}
	idx.removeFromCells(owner, e.cells)
	delete(idx.entries, owner)
	return true
}

// Region returns the registered region of owner.
func (idx *Index[T]) Region(owner T) (geom.Box, bool) {
	e, ok := idx.entries[owner]
	if !ok {
		return geom.Box{}, false
	}
	return e.box, true
}

// Overlaps reports whether any owner other than self intersects box.
func (idx *Index[T]) Overlaps(self T, box geom.Box) bool {
	box = box.Normalize()
	found := false
	idx.scan(box, func(o T, e *entry) bool {
		if o != self && e.box.Intersects(box) {
			found = true
			return false
		}
		return true
	})
	return found
}

// OverlapsPoint reports whether any owner's region contains p.
func (idx *Index[T]) OverlapsPoint(p geom.Vec3i) bool {
	for _, o := range idx.cells[idx.cellOf(p)] {
		if idx.entries[o].box.Contains(p) {
			return true
		}
	}
	return false
}

// QueryOverlap returns every owner whose region intersects box, once each.
// Order is deterministic for a given sequence of Insert/Remove calls.
func (idx *Index[T]) QueryOverlap(box geom.Box) []T {
	box = box.Normalize()
	var out []T
	seen := map[T]struct{}{}
	idx.scan(box, func(o T, e *entry) bool {
		if _, ok := seen[o]; ok {
			return true
		}
		seen[o] = struct{}{}
		if e.box.Intersects(box) {
			out = append(out, o)
		}
		return true
	})
	return out
}

// QueryPoint returns every owner whose region contains p.
func (idx *Index[T]) QueryPoint(p geom.Vec3i) []T {
	var out []T
	for _, o := range idx.cells[idx.cellOf(p)] {
		if idx.entries[o].box.Contains(p) {
			out = append(out, o)
		}
	}
	return out
}

// Lookup returns the first owner whose region contains p.
func (idx *Index[T]) Lookup(p geom.Vec3i) (T, bool) {
	for _, o := range idx.cells[idx.cellOf(p)] {
		if idx.entries[o].box.Contains(p) {
			return o, true
		}
	}
	var zero T
	return zero, false
}

func (idx *Index[T]) scan(box geom.Box, fn func(o T, e *entry) bool) {
	lo := idx.cellOf(box.Min)
	hi := idx.cellOf(box.Max)
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				for _, o := range idx.cells[cellKey{X: x, Y: y, Z: z}] {
					if !fn(o, idx.entries[o]) {
						return
					}
				}
			}
		}
	}
}

func (idx *Index[T]) removeFromCells(owner T, cells []cellKey) {
	for _, c := range cells {
		bucket := idx.cells[c]
		for i := range bucket {
			if bucket[i] != owner {
				continue
			}
			// Shift rather than swap so query order stays insertion order.
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
		if len(bucket) == 0 {
			delete(idx.cells, c)
		} else {
			idx.cells[c] = bucket
		}
	}
}

func (idx *Index[T]) cellsFor(box geom.Box) []cellKey {
	lo := idx.cellOf(box.Min)
	hi := idx.cellOf(box.Max)
	out := make([]cellKey, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1)*(hi.Z-lo.Z+1))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				out = append(out, cellKey{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func (idx *Index[T]) cellOf(p geom.Vec3i) cellKey {
	return cellKey{X: floorDiv(p.X, idx.cellSize), Y: floorDiv(p.Y, idx.cellSize), Z: floorDiv(p.Z, idx.cellSize)}
}

// CellCount reports how many cells owner is registered under.
func (idx *Index[T]) CellCount(owner T) int {
	e, ok := idx.entries[owner]
	if !ok {
		return 0
	}
	return len(e.cells)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
