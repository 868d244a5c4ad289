package conveyor

import (
	"errors"
	"testing"

	"beltworks.ai/internal/sim/geom"
)

// twoSenders builds a router fed from West and North that drains East into a sink.
func twoSenders(t *testing.T, m Machine) *Network {
	t.Helper()
	n := New(Config{ItemSpeed: 1})
	chain(t, n, at(-1, 0), at(0, 0), at(1, 0))
	chain(t, n, at(0, -1), at(0, 0))
	bind(t, n, at(1, 0), m)
	return n
}

func TestExportImport_RoundTripKeepsHandshakeInFlight(t *testing.T) {
	m1 := &sink{id: "out", limit: -1}
	n := twoSenders(t, m1)
	n.PlaceItem(at(-1, 0), geom.East, "w")
	n.PlaceItem(at(0, -1), geom.South, "n")
	// North wins the slot on the second tick; West's transfer is then refused
	// while North's item still occupies the router output.
	for i := 0; i < 3; i++ {
		n.Tick(0.3)
	}
	if from, ok := mustNode(t, n, at(0, 0)).Reservation(); !ok || from != geom.West {
		t.Fatalf("reservation=%v,%v want=W,true", from, ok)
	}
	if !mustNode(t, n, at(-1, 0)).Segment(geom.East).Admitted() {
		t.Fatalf("pending sender lost its admission")
	}

	m2 := &sink{id: "out", limit: -1}
	restored := New(Config{ItemSpeed: 1})
	err := restored.Import(n.Export(), func(id string) (Machine, bool) {
		return m2, id == m2.id
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	restored.RestoreStats(n.Stats())
	if restored.Digest() != n.Digest() {
		t.Fatalf("digest changed across export/import")
	}

	for i := 0; i < 20; i++ {
		n.Tick(0.3)
		restored.Tick(0.3)
		if restored.Digest() != n.Digest() {
			t.Fatalf("tick %d: restored network diverged", i)
		}
	}
	if len(m1.got) != 2 || len(m2.got) != 2 || m1.got[0] != m2.got[0] {
		t.Fatalf("original got=%v restored got=%v", m1.got, m2.got)
	}
	if restored.Stats() != n.Stats() {
		t.Fatalf("stats %+v vs %+v", restored.Stats(), n.Stats())
	}
}

func TestImport_RejectsInvalidState(t *testing.T) {
	a, b := at(0, 0), at(1, 0)
	base := func() []NodeState {
		return []NodeState{
			{Pos: a, Outputs: geom.East.Flag(), Segments: []SegmentState{{Dir: geom.East, Items: []Item{{Kind: "x", Distance: 0.6}}}}},
			{Pos: b, Inputs: geom.West.Flag()},
		}
	}
	n := New(Config{})
	if err := n.Import(base(), nil); err != nil {
		t.Fatalf("valid state rejected: %v", err)
	}
	good := n.Digest()

	cases := []struct {
		name   string
		mutate func(s []NodeState)
	}{
		{"spacing", func(s []NodeState) {
			s[0].Segments[0].Items = append(s[0].Segments[0].Items, Item{Kind: "y", Distance: 0.3})
		}},
		{"distance out of range", func(s []NodeState) { s[0].Segments[0].Items[0].Distance = 1.5 }},
		{"distance at segment end", func(s []NodeState) { s[0].Segments[0].Items[0].Distance = QueueDistance }},
		{"missing input", func(s []NodeState) { s[1].Inputs = 0 }},
		{"missing segment", func(s []NodeState) { s[0].Segments = nil }},
		{"segment without output", func(s []NodeState) {
			s[1].Segments = []SegmentState{{Dir: geom.North}}
		}},
		{"both input and output", func(s []NodeState) { s[1].Outputs = geom.West.Flag() }},
		{"reserved for non-input", func(s []NodeState) { s[1].Reserved, s[1].ReservedFrom = true, geom.North }},
		{"admitted without reservation", func(s []NodeState) { s[0].Segments[0].Admitted = true }},
		{"unknown machine", func(s []NodeState) { s[1].MachineID = "ghost" }},
		{"duplicate node", func(s []NodeState) { s[1].Pos = a }},
	}
	for _, tc := range cases {
		s := base()
		tc.mutate(s)
		err := n.Import(s, func(string) (Machine, bool) { return nil, false })
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("%s: err=%v want ErrInvalidState", tc.name, err)
		}
		if n.Digest() != good {
			t.Fatalf("%s: failed import modified the network", tc.name)
		}
	}

	s := base()
	s[0].Segments[0].Admitted = true
	s[1].Reserved, s[1].ReservedFrom = true, geom.West
	if err := n.Import(s, nil); err != nil {
		t.Fatalf("admitted lane with matching reservation rejected: %v", err)
	}
}

func TestDigest_ReflectsQueueContents(t *testing.T) {
	n := New(Config{})
	chain(t, n, at(0, 0), at(1, 0))
	empty := n.Digest()
	n.PlaceItem(at(0, 0), geom.East, "ore")
	withItem := n.Digest()
	if empty == withItem {
		t.Fatalf("digest ignores items")
	}
	n.Tick(0.1)
	if n.Digest() == withItem {
		t.Fatalf("digest ignores item distance")
	}
}
