package bundleslot

import "testing"

func TestGetFreeExhaustion(t *testing.T) {
	p := New(2)

	h1, err := p.GetFree()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.GetFree()
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("expected distinct handles")
	}

	if _, err := p.GetFree(); err != ErrNoFreeSlot {
		t.Errorf("expected ErrNoFreeSlot, got %v", err)
	}
}

func TestIncrDecrBalance(t *testing.T) {
	p := New(1)
	h, err := p.GetFree()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Incr(h); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Incr(h); err != nil {
		t.Fatal(err)
	}

	if n, err := p.Decr(h); err != nil || n != 2 {
		t.Fatalf("Decr: got (%d, %v), want (2, nil)", n, err)
	}
	if n, err := p.Decr(h); err != nil || n != 1 {
		t.Fatalf("Decr: got (%d, %v), want (1, nil)", n, err)
	}
	if n, err := p.Decr(h); err != nil || n != 0 {
		t.Fatalf("Decr: got (%d, %v), want (0, nil)", n, err)
	}

	if p.Refcount(h) != 0 {
		t.Error("slot should have returned to the pool")
	}

	// The slot is free again, so it should be reusable.
	if _, err := p.GetFree(); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateFreeDoesNotCorruptState(t *testing.T) {
	p := New(1)
	h, _ := p.GetFree()

	if err := p.Free(h); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(h); err != ErrDuplicateFree {
		t.Errorf("expected ErrDuplicateFree, got %v", err)
	}

	// Pool should still be usable.
	if _, err := p.GetFree(); err != nil {
		t.Fatal(err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	p := New(1)
	h, _ := p.GetFree()

	want := []byte{1, 2, 3}
	if err := p.Set(h, want); err != nil {
		t.Fatal(err)
	}

	got, err := p.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestInvalidHandle(t *testing.T) {
	p := New(1)

	if _, err := p.Incr(Handle(0)); err != ErrInvalidHandle {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}
	if _, err := p.Incr(Handle(5)); err != ErrInvalidHandle {
		t.Errorf("expected ErrInvalidHandle, got %v", err)
	}
}
