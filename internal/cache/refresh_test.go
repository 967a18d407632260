package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBackgroundRefreshAbsentFetchesSynchronously(t *testing.T) {
	store, _ := newTestStore(t)

	calls := 0
	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "projects",
		func(ctx context.Context) (any, error) {
			calls++
			return "v1", nil
		}, time.Minute)
	if err != nil {
		t.Fatalf("getWithBackgroundRefresh: %v", err)
	}
	if result.IsStale {
		t.Fatal("first fetch should be fresh")
	}
	if result.Refresh != nil {
		t.Fatal("fresh result must not carry a refresh handle")
	}
	if calls != 1 {
		t.Fatalf("fetcher calls = %d, want 1", calls)
	}
}

func TestBackgroundRefreshFreshDoesNoWork(t *testing.T) {
	store, _ := newTestStore(t)
	store.Set("acme", "projects", "v1", time.Minute)

	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "projects",
		func(ctx context.Context) (any, error) {
			t.Fatal("fetcher must not run for a fresh entry")
			return nil, nil
		}, time.Minute)
	if err != nil {
		t.Fatalf("getWithBackgroundRefresh: %v", err)
	}
	if result.IsStale {
		t.Fatal("fresh entry reported stale")
	}
}

func TestBackgroundRefreshExactExpiryStillFresh(t *testing.T) {
	store, clock := newTestStore(t)
	store.Set("acme", "projects", "v1", time.Minute)
	// Land the clock exactly on expiresAt: both read paths must agree
	// this is still a hit, so no refresh is spawned.
	clock.Advance(time.Minute)

	if _, ok := store.Get("acme", "projects"); !ok {
		t.Fatal("get at the exact deadline should still hit")
	}

	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "projects",
		func(ctx context.Context) (any, error) {
			t.Fatal("fetcher must not run at the exact deadline")
			return nil, nil
		}, time.Minute)
	if err != nil {
		t.Fatalf("getWithBackgroundRefresh: %v", err)
	}
	if result.IsStale || result.Refresh != nil {
		t.Fatalf("deadline read reported stale=%v handle=%v, want fresh with no handle", result.IsStale, result.Refresh)
	}
}

func TestBackgroundRefreshServesStaleThenUpdates(t *testing.T) {
	store, clock := newTestStore(t)
	store.Set("acme", "projects", "old", time.Minute)
	clock.Advance(2 * time.Minute)

	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "projects",
		func(ctx context.Context) (any, error) {
			return "new", nil
		}, time.Minute)
	if err != nil {
		t.Fatalf("getWithBackgroundRefresh: %v", err)
	}
	if !result.IsStale {
		t.Fatal("expired entry should be reported stale")
	}
	var stale string
	if err := json.Unmarshal(result.Data, &stale); err != nil || stale != "old" {
		t.Fatalf("stale read = %q (%v), want \"old\"", stale, err)
	}
	if result.Refresh == nil {
		t.Fatal("stale result must carry a refresh handle")
	}

	if err := result.Refresh.Wait(); err != nil {
		t.Fatalf("background refresh failed: %v", err)
	}

	payload, ok := store.Get("acme", "projects")
	if !ok {
		t.Fatal("expected refreshed entry after handle settled")
	}
	var fresh string
	if err := json.Unmarshal(payload, &fresh); err != nil || fresh != "new" {
		t.Fatalf("refreshed read = %q (%v), want \"new\"", fresh, err)
	}
}

func TestBackgroundRefreshFailureNeverReachesCaller(t *testing.T) {
	store, clock := newTestStore(t)
	store.Set("acme", "projects", "old", time.Minute)
	clock.Advance(2 * time.Minute)

	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "projects",
		func(ctx context.Context) (any, error) {
			return nil, errors.New("backend down")
		}, time.Minute)
	if err != nil {
		t.Fatalf("stale read must succeed even when refresh will fail: %v", err)
	}
	if !result.IsStale {
		t.Fatal("expected stale result")
	}

	// The failure is observable only through the detached handle.
	if err := result.Refresh.Wait(); err == nil {
		t.Fatal("expected refresh handle to report the failure")
	}
}

// TestAcmeTimeline walks the documented scenario: ttl=900000ms, write at
// t=0, fresh read at t=800000, stale-while-revalidate at t=950000, fresh
// read of the new snapshot at t=951000.
func TestAcmeTimeline(t *testing.T) {
	store, clock := newTestStore(t)
	const ttl = 900000 * time.Millisecond

	if err := store.Set("acme", "issues", "snapshot-t0", ttl); err != nil {
		t.Fatalf("set: %v", err)
	}

	// t=800000: fresh, zero fetcher invocations.
	clock.Advance(800000 * time.Millisecond)
	fetches := 0
	payload, err := store.GetOrFetch(context.Background(), "acme", "issues",
		func(ctx context.Context) (any, error) {
			fetches++
			return nil, nil
		}, ttl)
	if err != nil {
		t.Fatalf("t=800000 read: %v", err)
	}
	if fetches != 0 {
		t.Fatalf("t=800000 fetcher invocations = %d, want 0", fetches)
	}
	var got string
	json.Unmarshal(payload, &got)
	if got != "snapshot-t0" {
		t.Fatalf("t=800000 read = %q, want snapshot-t0", got)
	}

	// t=950000: stale read returns the t=0 snapshot immediately.
	clock.Advance(150000 * time.Millisecond)
	result, err := store.GetWithBackgroundRefresh(context.Background(), "acme", "issues",
		func(ctx context.Context) (any, error) {
			return "snapshot-t950000", nil
		}, ttl)
	if err != nil {
		t.Fatalf("t=950000 read: %v", err)
	}
	if !result.IsStale {
		t.Fatal("t=950000 read should be stale")
	}
	json.Unmarshal(result.Data, &got)
	if got != "snapshot-t0" {
		t.Fatalf("t=950000 read = %q, want snapshot-t0", got)
	}
	if err := result.Refresh.Wait(); err != nil {
		t.Fatalf("background refresh: %v", err)
	}

	// t=951000: plain get returns the newly fetched snapshot.
	clock.Advance(1000 * time.Millisecond)
	payload, ok := store.Get("acme", "issues")
	if !ok {
		t.Fatal("t=951000 expected hit")
	}
	json.Unmarshal(payload, &got)
	if got != "snapshot-t950000" {
		t.Fatalf("t=951000 read = %q, want snapshot-t950000", got)
	}
}
