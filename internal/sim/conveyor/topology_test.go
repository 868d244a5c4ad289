package conveyor

import (
	"errors"
	"testing"

	"beltworks.ai/internal/sim/geom"
)

func TestLink_Validation(t *testing.T) {
	n := New(Config{})
	a := at(0, 0)
	n.EnsureNode(a)
	n.EnsureNode(at(2, 0))
	n.EnsureNode(geom.Vec3i{X: 1, Y: 1})

	cases := []struct {
		name string
		to   geom.Vec3i
		want error
	}{
		{"self", a, ErrInvalidLink},
		{"not adjacent", at(2, 0), ErrInvalidLink},
		{"other layer", geom.Vec3i{X: 1, Y: 1}, ErrInvalidLink},
		{"missing node", at(0, 1), ErrNoNode},
	}
	for _, tc := range cases {
		if err := n.Link(a, tc.to); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want=%v", tc.name, err, tc.want)
		}
	}

	b := at(1, 0)
	chain(t, n, a, b)
	if err := n.Link(a, b); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("duplicate link err=%v", err)
	}
	if err := n.Unlink(b, a); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("unlink of absent link err=%v", err)
	}
}

func TestLink_ReplacesReverseLink(t *testing.T) {
	var reasons []string
	n := New(Config{Hooks: Hooks{OnEvict: func(_ geom.Vec3i, _ geom.Direction, _ Item, r string) {
		reasons = append(reasons, r)
	}}})
	a, b := at(0, 0), at(1, 0)
	chain(t, n, b, a)
	n.PlaceItem(b, geom.West, "ore")

	if err := n.Link(a, b); err != nil {
		t.Fatalf("link: %v", err)
	}
	if !n.IsLinked(a, b) || n.IsLinked(b, a) {
		t.Fatalf("a->b=%v b->a=%v", n.IsLinked(a, b), n.IsLinked(b, a))
	}
	na, nb := mustNode(t, n, a), mustNode(t, n, b)
	if na.Inputs() != 0 || na.Outputs() != geom.East.Flag() || nb.Inputs() != geom.West.Flag() || nb.Outputs() != 0 {
		t.Fatalf("a in=%v out=%v b in=%v out=%v", na.Inputs(), na.Outputs(), nb.Inputs(), nb.Outputs())
	}
	if len(reasons) != 1 || reasons[0] != EvictUnlink {
		t.Fatalf("evictions=%v", reasons)
	}
	checkConservation(t, n)
}

func TestUnlink_EvictsEveryQueuedItem(t *testing.T) {
	var evicted []Item
	n := New(Config{Hooks: Hooks{OnEvict: func(p geom.Vec3i, d geom.Direction, it Item, r string) {
		if d != geom.East || r != EvictUnlink {
			t.Errorf("evict at %v dir=%v reason=%s", p, d, r)
		}
		evicted = append(evicted, it)
	}}})
	a, b := at(0, 0), at(1, 0)
	chain(t, n, a, b)

	// b has nowhere to route, so the head waits at the handoff point.
	placed := 0
	for i := 0; i < 40; i++ {
		if n.PlaceItem(a, geom.East, "ore") {
			placed++
		}
		n.Tick(0.1)
	}
	k := mustNode(t, n, a).Segment(geom.East).Len()
	if k == 0 || k != placed {
		t.Fatalf("queued=%d placed=%d", k, placed)
	}

	if err := n.Unlink(a, b); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if len(evicted) != k || n.Stats().Evicted != uint64(k) {
		t.Fatalf("evicted=%d stats=%d want=%d", len(evicted), n.Stats().Evicted, k)
	}
	if n.IsLinked(a, b) || mustNode(t, n, a).Segment(geom.East) != nil {
		t.Fatalf("link survived")
	}
	checkConservation(t, n)
}

func TestUnlink_ClearsReservation(t *testing.T) {
	n := New(Config{ItemSpeed: 1})
	w, c, e := at(-1, 0), at(0, 0), at(1, 0)
	chain(t, n, w, c, e)
	// The first item moves on to c; the second is refused while the first still
	// occupies c's output, leaving c reserved for West.
	for i := 0; i < 2; i++ {
		if !n.PlaceItem(w, geom.East, "ore") {
			t.Fatalf("place %d failed", i)
		}
		n.Tick(0.5)
	}
	if from, ok := mustNode(t, n, c).Reservation(); !ok || from != geom.West {
		t.Fatalf("reservation=%v,%v want=W,true", from, ok)
	}

	if err := n.Unlink(w, c); err != nil {
		t.Fatal(err)
	}
	if _, ok := mustNode(t, n, c).Reservation(); ok {
		t.Fatalf("reservation survived unlink")
	}
	if err := n.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestDemolish_RemovesNodeAndLinks(t *testing.T) {
	var reasons []string
	n := New(Config{Hooks: Hooks{OnEvict: func(_ geom.Vec3i, _ geom.Direction, _ Item, r string) {
		reasons = append(reasons, r)
	}}})
	a, b, c := at(0, 0), at(1, 0), at(2, 0)
	chain(t, n, a, b, c)
	n.PlaceItem(a, geom.East, "x")
	n.PlaceItem(b, geom.East, "y")

	if !n.Demolish(b) {
		t.Fatalf("demolish returned false")
	}
	if n.Demolish(b) {
		t.Fatalf("second demolish returned true")
	}
	if _, ok := n.Node(b); ok {
		t.Fatalf("node still present")
	}
	if n.IsLinked(a, b) || mustNode(t, n, c).Inputs() != 0 {
		t.Fatalf("links to demolished node survived")
	}
	if len(reasons) != 2 || reasons[0] != EvictDemolish || reasons[1] != EvictDemolish {
		t.Fatalf("evictions=%v", reasons)
	}
	checkConservation(t, n)
}

func TestBindMachine_Conflicts(t *testing.T) {
	n := New(Config{})
	p := at(0, 0)
	if err := n.BindMachine(p, &sink{id: "a"}); !errors.Is(err, ErrNoNode) {
		t.Fatalf("bind without node err=%v", err)
	}
	n.EnsureNode(p)
	bind(t, n, p, &sink{id: "a"})
	bind(t, n, p, &sink{id: "a"})
	if err := n.BindMachine(p, &sink{id: "b"}); !errors.Is(err, ErrMachineBound) {
		t.Fatalf("rebinding to another machine err=%v", err)
	}
	n.UnbindMachine(p)
	if mustNode(t, n, p).Machine() != nil {
		t.Fatalf("machine still bound")
	}
}

func TestLink_ReportsMachineLinks(t *testing.T) {
	var links [][2]geom.Vec3i
	n := New(Config{Hooks: Hooks{OnLink: func(from, to geom.Vec3i) {
		links = append(links, [2]geom.Vec3i{from, to})
	}}})
	a, b, c := at(0, 0), at(1, 0), at(2, 0)
	chain(t, n, a, b)
	n.EnsureNode(c)
	bind(t, n, c, &sink{id: "m", limit: -1})
	if err := n.Link(b, c); err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0] != [2]geom.Vec3i{b, c} {
		t.Fatalf("links=%v", links)
	}
}

func TestSweep_RemovesIllegalLinksAndOrphans(t *testing.T) {
	var illegal []string
	n := New(Config{Hooks: Hooks{OnIllegalLink: func(from, to geom.Vec3i, reason string) {
		illegal = append(illegal, reason)
	}}})
	a, b, c, d := at(0, 0), at(1, 0), at(2, 0), at(3, 0)
	chain(t, n, a, b, c, d)
	n.PlaceItem(b, geom.East, "ore")

	rule := func(from, to geom.Vec3i) (bool, string) {
		if to == c || from == c {
			return false, "blocked tile"
		}
		return true, ""
	}
	removed := n.Sweep([]geom.Vec3i{c}, rule)

	if len(illegal) != 2 {
		t.Fatalf("illegal=%v", illegal)
	}
	if n.IsLinked(b, c) || n.IsLinked(c, d) || !n.IsLinked(a, b) {
		t.Fatalf("links after sweep: a->b=%v b->c=%v c->d=%v", n.IsLinked(a, b), n.IsLinked(b, c), n.IsLinked(c, d))
	}
	if len(removed) != 2 || removed[0] != c || removed[1] != d {
		t.Fatalf("removed=%v want=[%v %v]", removed, c, d)
	}
	if _, ok := n.Node(b); !ok {
		t.Fatalf("b is still linked to a and must survive")
	}
	if n.Stats().Evicted != 1 {
		t.Fatalf("evicted=%d want=1", n.Stats().Evicted)
	}
	checkConservation(t, n)
}
