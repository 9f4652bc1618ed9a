package guard_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/betledger/guard"
)

var errConflict = errors.New("conflict")

func fastPolicy(tries uint) guard.RetryPolicy {
	return guard.RetryPolicy{
		MaxTries:        tries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Retryable:       func(err error) bool { return errors.Is(err, errConflict) },
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		got, err := guard.Retry(ctx, fastPolicy(5), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errConflict
			}
			return 42, nil
		})
		if err != nil || got != 42 {
			t.Fatalf("got %d, %v", got, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("non retryable stops", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := guard.Do(ctx, fastPolicy(5), func(context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("exhausted returns last error", func(t *testing.T) {
		calls := 0
		err := guard.Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			return errConflict
		})
		if !errors.Is(err, errConflict) {
			t.Fatalf("got %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})
}

func TestLocker(t *testing.T) {
	l := guard.NewLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "bet_1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if l.Held() != 0 {
		t.Errorf("held = %d after release", l.Held())
	}
}

func TestLockerIndependentKeys(t *testing.T) {
	l := guard.NewLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
}

func TestLockerContextCancel(t *testing.T) {
	l := guard.NewLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}

	unlock()
	unlock()
	if l.Held() != 0 {
		t.Errorf("held = %d", l.Held())
	}
}
