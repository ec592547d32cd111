package cacheregistry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapCacheSetGetDelete(t *testing.T) {
	t.Parallel()
	r := New[string]()
	r.CreateMap("books", 0, 0)

	r.Set("books", "k1", "v1")
	v, ok := r.Get("books", "k1")
	if !ok || v != "v1" {
		t.Fatalf("got %q, %v want v1, true", v, ok)
	}

	if _, ok := r.Get("books", "missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestMapCacheTTLExpires(t *testing.T) {
	t.Parallel()
	r := New[string]()
	r.CreateMap("notes", 10*time.Millisecond, 0)
	r.Set("notes", "k", "v")

	time.Sleep(30 * time.Millisecond)
	if _, ok := r.Get("notes", "k"); ok {
		t.Fatalf("expected entry to have expired")
	}
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	t.Parallel()
	r := New[int]()
	if err := r.CreateLRU("covers", 2); err != nil {
		t.Fatalf("CreateLRU: %v", err)
	}
	r.Set("covers", "a", 1)
	r.Set("covers", "b", 2)
	r.Set("covers", "c", 3)

	if _, ok := r.Get("covers", "a"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if v, ok := r.Get("covers", "c"); !ok || v != 3 {
		t.Fatalf("got %d, %v want 3, true", v, ok)
	}
}

func TestClearWithGlobPrefix(t *testing.T) {
	t.Parallel()
	r := New[string]()
	r.CreateMap("book:metadata", 0, 0)
	r.CreateMap("book:cover", 0, 0)
	r.CreateMap("import:stats", 0, 0)

	r.Set("book:metadata", "k", "v")
	r.Set("book:cover", "k", "v")
	r.Set("import:stats", "k", "v")

	r.Clear("book:*")

	if _, ok := r.Get("book:metadata", "k"); ok {
		t.Fatalf("book:metadata should be cleared")
	}
	if _, ok := r.Get("book:cover", "k"); ok {
		t.Fatalf("book:cover should be cleared")
	}
	if _, ok := r.Get("import:stats", "k"); !ok {
		t.Fatalf("import:stats should not be cleared")
	}
}

func TestMemoizeAsyncSharesInFlightCall(t *testing.T) {
	t.Parallel()
	r := New[int]()
	r.CreateMap("calc", 0, 0)

	var calls int32
	start := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return 7, nil
	}

	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			v, err := r.MemoizeAsync(context.Background(), "calc", "key", fn)
			if err != nil {
				t.Errorf("MemoizeAsync: %v", err)
			}
			done <- v
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(start)
	<-done
	<-done

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", calls)
	}
}

func TestMemoizeAsyncDoesNotCacheFailure(t *testing.T) {
	t.Parallel()
	r := New[int]()
	r.CreateMap("calc", 0, 0)

	var calls int32
	fn := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return 0, errors.New("boom")
		}
		return 99, nil
	}

	_, err := r.MemoizeAsync(context.Background(), "calc", "key", fn)
	if err == nil {
		t.Fatalf("expected first call to fail")
	}

	v, err := r.MemoizeAsync(context.Background(), "calc", "key", fn)
	if err != nil || v != 99 {
		t.Fatalf("got %d, %v want 99, nil", v, err)
	}
}
