package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_GetMissWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testLogger(), func(ctx context.Context, customerID, email string) (Bundle, error) {
		return Bundle{}, nil
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, ok := s.Get(context.Background(), "C001"); ok {
		t.Fatal("expected miss for absent bundle")
	}
}

func TestStore_EnsurePopulatedThenGetHits(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	s, err := NewStore(dir, testLogger(), func(ctx context.Context, customerID, email string) (Bundle, error) {
		atomic.AddInt32(&calls, 1)
		return Bundle{
			CustomerID: customerID,
			CreatedAt:  time.Now(),
			TTLSeconds: 300,
			Data:       BundleData{PrimaryBalance: Money{Amount: "100.00", Currency: "THB"}},
		}, nil
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	s.EnsurePopulated(context.Background(), "C001", "alice@ex")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := s.Get(context.Background(), "C001"); ok {
			if b.Data.PrimaryBalance.Amount != "100.00" {
				t.Fatalf("unexpected bundle data: %+v", b)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Fatalf("expected exactly one populate call, got %d", calls)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("bundle never became visible")
}

// I2: concurrent EnsurePopulated/Get calls on one customer must result in at
// most one populate actually running.
func TestStore_ConcurrentEnsurePopulatedCoalesces(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	block := make(chan struct{})

	s, err := NewStore(dir, testLogger(), func(ctx context.Context, customerID, email string) (Bundle, error) {
		atomic.AddInt32(&calls, 1)
		<-block
		return Bundle{
			CustomerID: customerID,
			CreatedAt:  time.Now(),
			TTLSeconds: 300,
		}, nil
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			s.EnsurePopulated(context.Background(), "C001", "alice@ex")
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	close(block)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one populate call, got %d", got)
	}
}

// I3: Get never returns a bundle whose TTL has elapsed.
func TestStore_ExpiredBundleTreatedAsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	expired := Bundle{
		CustomerID: "C001",
		CreatedAt:  time.Now().Add(-10 * time.Minute),
		TTLSeconds: 300,
	}
	if err := s.write("C001", expired); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, ok := s.Get(context.Background(), "C001"); ok {
		t.Fatal("expected expired bundle to be treated as absent")
	}
}

func TestStore_InvalidateRemovesBundle(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	valid := Bundle{CustomerID: "C001", CreatedAt: time.Now(), TTLSeconds: 300}
	if err := s.write("C001", valid); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := s.Get(context.Background(), "C001"); !ok {
		t.Fatal("expected hit before invalidate")
	}

	s.Invalidate("C001")

	if _, ok := s.Get(context.Background(), "C001"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestStore_SweepRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, testLogger(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	stale := Bundle{CustomerID: "C002", CreatedAt: time.Now(), TTLSeconds: 300}
	if err := s.write("C002", stale); err != nil {
		t.Fatalf("write: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(s.path("C002"), oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := s.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := os.Stat(s.path("C002")); err == nil {
		t.Fatal("expected stale file to be removed by sweep")
	}
}
