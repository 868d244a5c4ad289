package conveyor

import (
	"beltworks.ai/internal/sim/conveyor/queue"
	"beltworks.ai/internal/sim/geom"
)

// Segment is one directional lane leaving a node. Its head is the item furthest along.
type Segment struct {
	dir   geom.Direction
	items queue.Queue[Item]

	// admitted is the lane's half of the handshake: the downstream node granted the
	// head. It outlives a tick only while a routing node keeps a rejected transfer pending.
	admitted bool

	// Set by integrate: the head sits at HandoffDistance, and overshoot is the
	// motion the clamp absorbed this tick.
	ready     bool
	overshoot float64
}

func newSegment(dir geom.Direction) *Segment {
	return &Segment{dir: dir}
}

func (s *Segment) Dir() geom.Direction { return s.dir }
func (s *Segment) Len() int            { return s.items.Len() }
func (s *Segment) Admitted() bool      { return s.admitted }

// Items copies the lane contents head to tail.
func (s *Segment) Items() []Item { return s.items.Slice() }

func (s *Segment) Head() (Item, bool) {
	if h := s.items.Head(); h != nil {
		return *h, true
	}
	return Item{}, false
}

// hasRoom reports whether one more item fits at the tail without breaking spacing.
func (s *Segment) hasRoom() bool {
	t := s.items.Tail()
	return t == nil || t.Distance >= MinItemDistance
}

// tailSlack is the furthest distance a new tail item may take.
func (s *Segment) tailSlack() float64 {
	t := s.items.Tail()
	if t == nil {
		return HandoffDistance
	}
	return t.Distance - MinItemDistance
}

// integrate advances every item by up to fixed, head to tail. The head never passes
// HandoffDistance; reaching it marks the lane ready to hand the item over. Trailing
// items close the gap to the already-moved item ahead but never come within
// MinItemDistance of it.
func (s *Segment) integrate(fixed float64) {
	s.ready = false
	s.overshoot = 0
	ahead := 0.0
	s.items.Each(func(i int, it *Item) bool {
		if i == 0 {
			target := it.Distance + fixed
			if target >= HandoffDistance {
				s.ready = true
				s.overshoot = target - HandoffDistance
				if it.Distance < HandoffDistance {
					it.Distance = HandoffDistance
				}
			} else {
				it.Distance = target
			}
		} else {
			bound := ahead - MinItemDistance
			if bound < 0 {
				bound = 0
			}
			step := bound - it.Distance
			if step > fixed {
				step = fixed
			}
			if step > 0 {
				it.Distance += step
			}
		}
		ahead = it.Distance
		return true
	})
}

func (s *Segment) push(it Item) {
	s.items.Enqueue(it)
}

// popHead removes the head after a committed transfer and resets the handshake.
func (s *Segment) popHead() (Item, bool) {
	it, err := s.items.Dequeue()
	if err != nil {
		return Item{}, false
	}
	s.admitted = false
	s.ready = false
	s.overshoot = 0
	return it, true
}

// evict drains the lane, handing every item to fn.
func (s *Segment) evict(fn func(Item)) int {
	n := s.items.Len()
	s.items.Drain(fn)
	s.admitted = false
	s.ready = false
	s.overshoot = 0
	return n
}

// spacingOK checks the settled-spacing invariant for this lane and that every
// distance lies in [0, QueueDistance).
func (s *Segment) spacingOK() bool {
	ok := true
	prev := 0.0
	s.items.Each(func(i int, it *Item) bool {
		if it.Distance < 0 || it.Distance >= QueueDistance {
			ok = false
			return false
		}
		if i > 0 && prev-it.Distance < MinItemDistance-1e-9 {
			ok = false
			return false
		}
		prev = it.Distance
		return true
	})
	return ok
}
