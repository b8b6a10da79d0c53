package upload

import (
	"context"
	"errors"
	"testing"
)

// testRecordStore runs the compare-and-swap contract against a backend.
func testRecordStore(t *testing.T, s RecordStore, key string) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, key); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	v1, err := s.Save(ctx, key, []byte(`[1]`), 0)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if v1 != 1 {
		t.Errorf("expected version 1, got %d", v1)
	}

	if _, err := s.Save(ctx, key, []byte(`[x]`), 0); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("create over existing record: expected conflict, got %v", err)
	}

	v2, err := s.Save(ctx, key, []byte(`[1,2]`), v1)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if v2 != 2 {
		t.Errorf("expected version 2, got %d", v2)
	}

	if _, err := s.Save(ctx, key, []byte(`[stale]`), v1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale save: expected conflict, got %v", err)
	}

	rec, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(rec.Data) != `[1,2]` || rec.Version != 2 {
		t.Errorf("unexpected record %q v%d", rec.Data, rec.Version)
	}
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	testRecordStore(t, NewMemoryStore(), "k")
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	data := []byte("abc")
	if _, err := s.Save(ctx, "k", data, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	data[0] = 'z'

	rec, _ := s.Load(ctx, "k")
	if string(rec.Data) != "abc" {
		t.Errorf("store aliases caller buffer: %q", rec.Data)
	}
}
