package queue

import (
	"errors"
	"testing"
)

func TestQueue_FIFOAcrossGrowth(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 37; i++ {
		q.Enqueue(i)
	}
	if q.Len() != 37 {
		t.Fatalf("Len=%d want=37", q.Len())
	}
	if q.Cap()&(q.Cap()-1) != 0 {
		t.Fatalf("Cap=%d not a power of two", q.Cap())
	}
	for i := 0; i < 37; i++ {
		v, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue #%d: %v", i, err)
		}
		if v != i {
			t.Fatalf("Dequeue #%d=%d want=%d", i, v, i)
		}
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New[string](2)
	if _, err := q.Dequeue(); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("err=%v want ErrEmptyQueue", err)
	}
}

func TestQueue_WrapAroundThenGrow(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 4; i++ {
		q.Enqueue(i)
	}
	// Move head to the middle of the buffer so the live range wraps.
	_, _ = q.Dequeue()
	_, _ = q.Dequeue()
	q.Enqueue(4)
	q.Enqueue(5)
	q.Enqueue(6) // grows while wrapped
	want := []int{2, 3, 4, 5, 6}
	got := q.Slice()
	if len(got) != len(want) {
		t.Fatalf("Slice=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Slice=%v want=%v", got, want)
		}
	}
}

func TestQueue_PeekBothEnds(t *testing.T) {
	var q Queue[int]
	for i := 10; i < 15; i++ {
		q.Enqueue(i)
	}
	if v := q.PeekAt(0); v == nil || *v != 10 {
		t.Fatalf("PeekAt(0)=%v want 10", v)
	}
	if v := q.PeekAt(4); v == nil || *v != 14 {
		t.Fatalf("PeekAt(4)=%v want 14", v)
	}
	if v := q.PeekFromTail(1); v == nil || *v != 13 {
		t.Fatalf("PeekFromTail(1)=%v want 13", v)
	}
	if q.PeekAt(5) != nil || q.PeekAt(-1) != nil {
		t.Fatalf("out of range peek should be nil")
	}
}

func TestQueue_EachMutatesInPlace(t *testing.T) {
	type rec struct{ d float64 }
	var q Queue[rec]
	q.Enqueue(rec{d: 0.5})
	q.Enqueue(rec{d: 0.125})
	q.Each(func(i int, v *rec) bool {
		v.d += 0.25
		return true
	})
	if h := q.Head(); h.d != 0.75 {
		t.Fatalf("head=%v want 0.75", h.d)
	}
	if tl := q.Tail(); tl.d != 0.375 {
		t.Fatalf("tail=%v want 0.375", tl.d)
	}

	visited := 0
	q.Each(func(i int, v *rec) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("visited=%d want=1", visited)
	}
}

func TestQueue_Drain(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 3; i++ {
		q.Enqueue(i)
	}
	var got []int
	q.Drain(func(v int) { got = append(got, v) })
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("Drain=%v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len=%d after drain", q.Len())
	}
}
