package conveyor

import (
	"math"
	"testing"

	"beltworks.ai/internal/sim/geom"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSegmentIntegrate_ClampsHeadAtHandoff(t *testing.T) {
	s := newSegment(geom.East)
	s.push(Item{Kind: "ore", Distance: 0.3})

	s.integrate(0.1)
	if h, _ := s.Head(); !near(h.Distance, 0.4) || s.ready {
		t.Fatalf("head=%v ready=%v want 0.4,false", h.Distance, s.ready)
	}

	s.integrate(0.5)
	h, _ := s.Head()
	if h.Distance != HandoffDistance || !s.ready {
		t.Fatalf("head=%v ready=%v want=%v,true", h.Distance, s.ready, HandoffDistance)
	}
	if !near(s.overshoot, 0.41) {
		t.Fatalf("overshoot=%v want=0.41", s.overshoot)
	}

	// Admission does not let the head run on: it is handed over from the handoff point.
	s.admitted = true
	s.integrate(0.6)
	h, _ = s.Head()
	if h.Distance != HandoffDistance || !near(s.overshoot, 0.6) {
		t.Fatalf("admitted head=%v overshoot=%v", h.Distance, s.overshoot)
	}
}

func TestSegmentIntegrate_TrailingItemsCloseGapButKeepSpacing(t *testing.T) {
	s := newSegment(geom.North)
	s.push(Item{Kind: "a", Distance: 0.9})
	s.push(Item{Kind: "b", Distance: 0.1})

	// A head already past the handoff point holds still.
	s.integrate(0.5)
	items := s.Items()
	if items[0].Distance != 0.9 {
		t.Fatalf("head moved: %v", items[0].Distance)
	}
	if !near(items[1].Distance, 0.9-MinItemDistance) {
		t.Fatalf("trailing=%v want=%v", items[1].Distance, 0.9-MinItemDistance)
	}
	if !s.spacingOK() {
		t.Fatalf("spacing violated: %v", items)
	}

	before := s.Items()
	s.integrate(0.5)
	after := s.Items()
	for i := range before {
		if after[i].Distance < before[i].Distance {
			t.Fatalf("item %d moved backward: %v -> %v", i, before[i].Distance, after[i].Distance)
		}
	}
}

func TestSegmentIntegrate_TrailingMovesAtMostFixed(t *testing.T) {
	s := newSegment(geom.South)
	s.push(Item{Kind: "a", Distance: 0.8})
	s.push(Item{Kind: "b", Distance: 0.0})

	s.integrate(0.1)
	items := s.Items()
	if !near(items[0].Distance, 0.8) || !near(items[1].Distance, 0.1) {
		t.Fatalf("items=%v", items)
	}
}

func TestSegmentHasRoomAndSlack(t *testing.T) {
	s := newSegment(geom.West)
	if !s.hasRoom() {
		t.Fatalf("empty segment should have room")
	}
	if s.tailSlack() != HandoffDistance {
		t.Fatalf("empty slack=%v want=%v", s.tailSlack(), HandoffDistance)
	}
	s.push(Item{Kind: "a", Distance: 0.3})
	if s.hasRoom() {
		t.Fatalf("tail at 0.3 leaves no room")
	}
	// A lone item resting at the handoff point still blocks the entry.
	s.integrate(0.5)
	if s.hasRoom() {
		t.Fatalf("tail at handoff leaves no room")
	}

	s = newSegment(geom.West)
	s.push(Item{Kind: "a", Distance: 0.6})
	if !s.hasRoom() {
		t.Fatalf("tail past %v should leave room", MinItemDistance)
	}
	if !near(s.tailSlack(), 0.6-MinItemDistance) {
		t.Fatalf("slack=%v", s.tailSlack())
	}
}

func TestSegmentPopAndEvictResetHandshake(t *testing.T) {
	s := newSegment(geom.East)
	s.push(Item{Kind: "a", Distance: 0.9})
	s.push(Item{Kind: "b", Distance: 0.2})
	s.admitted = true
	s.integrate(0.2)

	it, ok := s.popHead()
	if !ok || it.Kind != "a" {
		t.Fatalf("pop=%v ok=%v", it, ok)
	}
	if s.admitted || s.ready {
		t.Fatalf("handshake not reset after pop")
	}

	var got []string
	if n := s.evict(func(it Item) { got = append(got, it.Kind) }); n != 1 || len(got) != 1 || got[0] != "b" {
		t.Fatalf("evict n=%d got=%v", n, got)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d after evict", s.Len())
	}
}

func TestSegmentSpacingOK(t *testing.T) {
	s := newSegment(geom.East)
	s.push(Item{Kind: "a", Distance: 0.7})
	s.push(Item{Kind: "b", Distance: 0.3})
	if s.spacingOK() {
		t.Fatalf("0.4 gap accepted")
	}

	for _, d := range []float64{1.2, QueueDistance, -0.1} {
		s = newSegment(geom.East)
		s.push(Item{Kind: "a", Distance: d})
		if s.spacingOK() {
			t.Fatalf("distance %v outside [0,%v) accepted", d, QueueDistance)
		}
	}
	s = newSegment(geom.East)
	s.push(Item{Kind: "a", Distance: HandoffDistance})
	if !s.spacingOK() {
		t.Fatalf("head at the handoff point rejected")
	}
}
