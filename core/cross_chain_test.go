package core

import "testing"

func TestInMemoryStoreSetGetDelete(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Get([]byte("missing")); err == nil {
		t.Fatalf("expected error for missing key")
	}

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("unexpected error on set: %v", err)
	}
	v, err := s.Get([]byte("k"))
	if err != nil || string(v) != "v" {
		t.Fatalf("expected %q, got %q (err=%v)", "v", v, err)
	}

	if err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("unexpected error on delete: %v", err)
	}
	if _, err := s.Get([]byte("k")); err == nil {
		t.Fatalf("expected error after delete")
	}
}

func TestInMemoryStoreSubscribeWakesOnMatchingPrefix(t *testing.T) {
	s := NewInMemoryStore()
	ch, cancel := s.Subscribe([]byte("csmsg:"))
	defer cancel()

	if err := s.Set([]byte("other:key"), []byte("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected notification for non-matching prefix: %+v", ev)
	default:
	}

	if err := s.Set([]byte("csmsg:1:1"), []byte("payload")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-ch:
		if string(ev.Key) != "csmsg:1:1" || string(ev.Value) != "payload" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected a notification for matching prefix write")
	}
}

func TestInMemoryStoreIteratorRespectsRange(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.Set([]byte("a:1"), []byte("1"))
	_ = s.Set([]byte("a:2"), []byte("2"))
	_ = s.Set([]byte("b:1"), []byte("3"))

	it := s.Iterator([]byte("a:"), nil)
	defer it.Close()

	count := 0
	for it.Next() {
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 keys with prefix a:, got %d", count)
	}
}
