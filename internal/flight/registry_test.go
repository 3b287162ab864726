// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRunsOnce(t *testing.T) {
	r := NewRegistry[int]()

	var runs int32
	release := make(chan struct{})

	fn := func(ctx context.Context, s *Session[int]) (int, error) {
		atomic.AddInt32(&runs, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	var sharedCount int32
	results := make([]int, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, shared, err := r.Do(context.Background(), "video-1", fn)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if shared {
				atomic.AddInt32(&sharedCount, 1)
			}
			results[i] = v
		}(i)
	}

	// Wait until every caller is attached before releasing.
	waitFor(t, func() bool { return r.Waiters("video-1") == 10 })
	close(release)
	wg.Wait()

	if runs != 1 {
		t.Fatalf("expected 1 run, got %d", runs)
	}
	if sharedCount != 9 {
		t.Fatalf("expected 9 shared results, got %d", sharedCount)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result %d: expected 42, got %d", i, v)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected registry to be empty, got %d", r.Len())
	}
}

func TestDoIndependentKeys(t *testing.T) {
	r := NewRegistry[string]()

	var runs int32
	fn := func(ctx context.Context, s *Session[string]) (string, error) {
		atomic.AddInt32(&runs, 1)
		return s.Key(), nil
	}

	for _, k := range []string{"a", "b", "c"} {
		v, shared, err := r.Do(context.Background(), k, fn)
		if err != nil || shared || v != k {
			t.Fatalf("unexpected result for %v: %v %v %v", k, v, shared, err)
		}
	}

	if runs != 3 {
		t.Fatalf("expected 3 runs, got %d", runs)
	}
}

func TestDoErrorIsShared(t *testing.T) {
	r := NewRegistry[int]()
	boom := errors.New("boom")

	_, _, err := r.Do(context.Background(), "k", func(ctx context.Context, s *Session[int]) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}

	if r.Active("k") {
		t.Fatalf("expected session to be removed")
	}
}

func TestLastWaiterLeavingCancelsSession(t *testing.T) {
	r := NewRegistry[int]()

	cancelled := make(chan struct{})
	fn := func(ctx context.Context, s *Session[int]) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := r.Do(ctx, "k", fn)
		errCh <- err
	}()

	waitFor(t, func() bool { return r.Active("k") })
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected %v, got %v", context.Canceled, err)
	}

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatalf("session was not cancelled")
	}

	if r.Active("k") {
		t.Fatalf("expected abandoned session to be removed")
	}
}

func TestWaiterLeavingKeepsSessionForOthers(t *testing.T) {
	r := NewRegistry[int]()
	release := make(chan struct{})
	sessionCtx := make(chan context.Context, 1)

	fn := func(ctx context.Context, s *Session[int]) (int, error) {
		sessionCtx <- ctx
		<-release
		return 7, nil
	}

	first := make(chan int, 1)
	go func() {
		v, _, err := r.Do(context.Background(), "k", fn)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		first <- v
	}()
	sctx := <-sessionCtx

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() {
		_, shared, err := r.Do(ctx, "k", fn)
		if !shared {
			t.Errorf("expected to join the existing session")
		}
		second <- err
	}()

	waitFor(t, func() bool { return r.Waiters("k") == 2 })
	cancel()
	if err := <-second; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected %v, got %v", context.Canceled, err)
	}

	if r.Waiters("k") != 1 {
		t.Fatalf("expected 1 waiter, got %d", r.Waiters("k"))
	}
	if sctx.Err() != nil {
		t.Fatalf("session cancelled while a waiter remains")
	}

	close(release)
	if v := <-first; v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestAbandonedSessionDoesNotRemoveSuccessor(t *testing.T) {
	r := NewRegistry[int]()

	// The first session ignores cancellation and finishes late.
	releaseOld := make(chan struct{})
	oldDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, _, err := r.Do(ctx, "k", func(ctx context.Context, s *Session[int]) (int, error) {
			defer close(oldDone)
			<-releaseOld
			return 1, nil
		})
		abandoned <- err
	}()

	waitFor(t, func() bool { return r.Active("k") })
	cancel()
	if err := <-abandoned; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected %v, got %v", context.Canceled, err)
	}
	if r.Active("k") {
		t.Fatalf("expected abandoned session to be removed")
	}

	releaseNext := make(chan struct{})
	var runs int32
	fn := func(ctx context.Context, s *Session[int]) (int, error) {
		if atomic.AddInt32(&runs, 1) > 1 {
			return 3, nil
		}
		<-releaseNext
		return 2, nil
	}

	results := make(chan int, 2)
	call := func() {
		v, _, err := r.Do(context.Background(), "k", fn)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		results <- v
	}

	go call()
	waitFor(t, func() bool { return r.Waiters("k") == 1 })

	// The abandoned run returning must not evict the new session.
	close(releaseOld)
	<-oldDone
	time.Sleep(10 * time.Millisecond)
	if !r.Active("k") {
		t.Fatalf("expected new session to remain registered")
	}

	go call()
	waitFor(t, func() bool { return r.Waiters("k") == 2 })
	close(releaseNext)

	for i := 0; i < 2; i++ {
		if v := <-results; v != 2 {
			t.Fatalf("expected both callers to share the new session, got %d", v)
		}
	}
	if runs != 1 {
		t.Fatalf("expected 1 run of the new session, got %d", runs)
	}
	if r.Len() != 0 {
		t.Fatalf("expected registry to be empty, got %d", r.Len())
	}
}

func TestSessionContextKeepsValues(t *testing.T) {
	type key struct{}
	r := NewRegistry[string]()

	ctx := context.WithValue(context.Background(), key{}, "v")
	v, _, err := r.Do(ctx, "k", func(ctx context.Context, s *Session[string]) (string, error) {
		if s.ID == "" || s.Key() != "k" {
			t.Errorf("unexpected session %q %q", s.ID, s.Key())
		}
		if ctx.Err() != nil {
			t.Errorf("session context is done")
		}
		return ctx.Value(key{}).(string), nil
	})
	if err != nil || v != "v" {
		t.Fatalf("expected session context to keep values, got %q %v", v, err)
	}
}

func TestSessionContextCancelledOnCompletion(t *testing.T) {
	r := NewRegistry[int]()

	var sctx context.Context
	_, _, err := r.Do(context.Background(), "k", func(ctx context.Context, s *Session[int]) (int, error) {
		sctx = s.Context()
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sctx.Err() == nil {
		t.Fatalf("expected session context to be released")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met")
}
