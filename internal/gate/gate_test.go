package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCapRespectedUnderConcurrency(t *testing.T) {
	g := NewWithCapacity(3)
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Run(context.Background(), g, func() (struct{}, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if cur <= old || atomic.CompareAndSwapInt32(&maxSeen, old, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return struct{}{}, nil
			})
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("all goroutines should complete")
	}

	if atomic.LoadInt32(&maxSeen) > 3 {
		t.Fatalf("max concurrent in-flight was %d, want <= 3", maxSeen)
	}
}

func TestCancelableAcquisition(t *testing.T) {
	g := NewWithCapacity(1)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	go func() {
		_, _ = Run(context.Background(), g, func() (struct{}, error) {
			<-block
			return struct{}{}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond) // ensure the slot is taken

	cancel()
	_, err := Run(ctx, g, func() (struct{}, error) { return struct{}{}, nil })
	if err == nil {
		t.Fatal("expected context cancellation error while waiting for a slot")
	}
	close(block)
}
