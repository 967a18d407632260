package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQueryAllIsolatesFailingBranch(t *testing.T) {
	branches := []Branch{
		{Label: "site-a", AccountID: "a"},
		{Label: "site-b", AccountID: "b"},
		{Label: "site-c", AccountID: "c"},
	}

	results := QueryAll(context.Background(), branches, func(ctx context.Context, b Branch) (string, error) {
		if b.Label == "site-b" {
			return "", errors.New("site-b is down")
		}
		return "data-" + b.Label, nil
	}, "")

	if len(results) != 2 {
		t.Fatalf("results = %d, want exactly 2", len(results))
	}
	seen := map[string]string{}
	for _, r := range results {
		seen[r.Branch.Label] = r.Value
	}
	if seen["site-a"] != "data-site-a" || seen["site-c"] != "data-site-c" {
		t.Fatalf("unexpected results: %v", seen)
	}
	if _, ok := seen["site-b"]; ok {
		t.Fatal("failing branch must leave no trace in the output")
	}
}

func TestQueryAllTargetBranch(t *testing.T) {
	branches := []Branch{
		{Label: "site-a"},
		{Label: "site-b"},
	}

	calls := 0
	results := QueryAll(context.Background(), branches, func(ctx context.Context, b Branch) (string, error) {
		calls++
		return b.Label, nil
	}, "site-b")

	if calls != 1 {
		t.Fatalf("calls = %d, targeted query must run one branch", calls)
	}
	if len(results) != 1 || results[0].Branch.Label != "site-b" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestQueryAllRunsBranchesConcurrently(t *testing.T) {
	branches := make([]Branch, 8)
	for i := range branches {
		branches[i] = Branch{Label: fmt.Sprintf("b%d", i)}
	}

	started := make(chan struct{}, len(branches))
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		QueryAll(context.Background(), branches, func(ctx context.Context, b Branch) (int, error) {
			started <- struct{}{}
			<-release
			return 0, nil
		}, "")
		close(done)
	}()

	// All branches must be in flight at once before any is released.
	for range branches {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("branches did not start concurrently")
		}
	}
	close(release)
	<-done
}

func TestMergeDedupeSort(t *testing.T) {
	type issue struct {
		Key     string
		Updated time.Time
	}

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	results := []BranchResult[[]issue]{
		{Branch: Branch{Label: "site-a"}, Value: []issue{
			{Key: "PROJ-1", Updated: base.Add(time.Hour)},
			{Key: "PROJ-2", Updated: base.Add(3 * time.Hour)},
		}},
		{Branch: Branch{Label: "site-b"}, Value: []issue{
			{Key: "PROJ-1", Updated: base.Add(2 * time.Hour)}, // overlap with site-a
			{Key: "PROJ-3", Updated: base.Add(4 * time.Hour)},
		}},
	}

	merged := MergeLists(results)
	if len(merged) != 4 {
		t.Fatalf("merged = %d, want 4", len(merged))
	}
	for _, item := range merged {
		if item.Source == "" {
			t.Fatal("every merged item must carry provenance")
		}
	}

	deduped := DedupeBy(merged, func(i issue) string { return i.Key })
	if len(deduped) != 3 {
		t.Fatalf("deduped = %d, want 3", len(deduped))
	}

	SortByTimeDesc(deduped, func(i issue) time.Time { return i.Updated })
	if deduped[0].Item.Key != "PROJ-3" {
		t.Fatalf("most recent first, got %s", deduped[0].Item.Key)
	}
	for i := 1; i < len(deduped); i++ {
		if deduped[i].Item.Updated.After(deduped[i-1].Item.Updated) {
			t.Fatalf("items not sorted most-recent-first at %d", i)
		}
	}
}
