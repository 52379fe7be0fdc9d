package runlock

import (
	"context"
	"testing"
	"time"
)

func TestNoop_AlwaysObtains(t *testing.T) {
	ctx := context.Background()
	var l Locker = Noop{}

	first, err := l.Obtain(ctx, RunKey, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := l.Obtain(ctx, RunKey, time.Minute)
	if err != nil {
		t.Fatalf("noop locker should never contend: %v", err)
	}
	if err := first(ctx); err != nil {
		t.Errorf("release: %v", err)
	}
	if err := second(ctx); err != nil {
		t.Errorf("release: %v", err)
	}
}

func TestNew_EmptyURLReturnsNoop(t *testing.T) {
	l, closeFn, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(Noop); !ok {
		t.Errorf("expected Noop locker, got %T", l)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, _, err := New("not-a-redis-url"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestNewRedis_ParsesURL(t *testing.T) {
	r, err := NewRedis("redis://localhost:6379/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()
	if got := r.client.Options().DB; got != 2 {
		t.Errorf("expected DB 2, got %d", got)
	}
}
