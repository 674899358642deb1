package trapq

import "testing"

func TestAppendAndFirst(t *testing.T) {
	q := NewQueue()
	if _, err := q.First(); err == nil {
		t.Fatal("expected error on empty queue")
	}

	m1 := &Move{PrintTime: 0, MoveT: 1}
	m2 := &Move{PrintTime: 1, MoveT: 1}
	q.Append(m1)
	q.Append(m2)

	first, err := q.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first != m1 {
		t.Fatalf("expected m1 first, got %+v", first)
	}
	if first.Next() != m2 {
		t.Fatal("expected m2 to follow m1")
	}
	if m2.Next() != nil {
		t.Fatal("expected nil past tail sentinel")
	}
	if m1.Prev() != nil {
		t.Fatal("expected nil before head sentinel")
	}
	if m2.Prev() != m1 {
		t.Fatal("expected m1 before m2")
	}
}

func TestCheckSentinels(t *testing.T) {
	q := NewQueue()
	if err := q.CheckSentinels(); err != nil {
		t.Fatalf("fresh queue should validate: %v", err)
	}
	q.head.sentinel = false
	if err := q.CheckSentinels(); err == nil {
		t.Fatal("expected sentinel violation to be detected")
	}
}

func TestExpireUpToKeepsStraddlingMove(t *testing.T) {
	q := NewQueue()
	m1 := &Move{PrintTime: 0, MoveT: 1}
	m2 := &Move{PrintTime: 1, MoveT: 1}
	m3 := &Move{PrintTime: 2, MoveT: 1}
	q.Append(m1)
	q.Append(m2)
	q.Append(m3)

	q.ExpireUpTo(1.5)

	first, err := q.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first != m2 {
		t.Fatalf("expected m2 to survive expiry (straddles horizon), got %+v", first)
	}
	if first.Next() != m3 {
		t.Fatal("expected m3 to remain linked after m2")
	}
}

func TestExpireUpToNeverEmptiesQueue(t *testing.T) {
	q := NewQueue()
	m1 := &Move{PrintTime: 0, MoveT: 1}
	q.Append(m1)

	q.ExpireUpTo(1000)

	first, err := q.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first != m1 {
		t.Fatal("expected the only move to survive even when fully past horizon")
	}
}
