// Package fanout executes one function against many independent branches
// concurrently. A branch is an account, or one named instance of a
// multi-site connector. Failures never cross branch boundaries.
package fanout

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Branch labels one unit of parallel work. Branches are never persisted.
type Branch struct {
	Label     string // human-readable, used for provenance
	AccountID string
	Instance  string // named instance of a multi-site connector, if any
}

// BranchResult pairs a branch with its outcome. It is the unit of
// provenance in merged output.
type BranchResult[T any] struct {
	Branch Branch
	Value  T
}

// QueryAll runs fn against every branch concurrently, or against only
// targetLabel when it is non-empty. A branch whose fn fails is logged
// and omitted from the results; it leaves no partial entry behind and
// never blocks the other branches. Result order is unspecified.
func QueryAll[T any](ctx context.Context, branches []Branch, fn func(context.Context, Branch) (T, error), targetLabel string) []BranchResult[T] {
	if targetLabel != "" {
		var selected []Branch
		for _, b := range branches {
			if b.Label == targetLabel {
				selected = append(selected, b)
			}
		}
		branches = selected
	}

	type slot struct {
		result BranchResult[T]
		ok     bool
	}
	slots := make([]slot, len(branches))

	var g errgroup.Group
	for i, b := range branches {
		g.Go(func() error {
			value, err := fn(ctx, b)
			if err != nil {
				log.Printf("⚠️ Branch %q failed: %v", b.Label, err)
				return nil
			}
			slots[i] = slot{result: BranchResult[T]{Branch: b, Value: value}, ok: true}
			return nil
		})
	}
	g.Wait()

	results := make([]BranchResult[T], 0, len(branches))
	for _, s := range slots {
		if s.ok {
			results = append(results, s.result)
		}
	}
	return results
}

// Tagged is one merged item carrying the label of the branch that
// produced it.
type Tagged[T any] struct {
	Source string `json:"source"`
	Item   T      `json:"item"`
}

// MergeLists flattens per-branch list results into a single slice,
// tagging every item with its originating branch.
func MergeLists[T any](results []BranchResult[[]T]) []Tagged[T] {
	var merged []Tagged[T]
	for _, r := range results {
		for _, item := range r.Value {
			merged = append(merged, Tagged[T]{Source: r.Branch.Label, Item: item})
		}
	}
	return merged
}

// DedupeBy removes duplicates by natural key, keeping the first
// occurrence. Use after MergeLists when branches can return overlapping
// data.
func DedupeBy[T any, K comparable](items []Tagged[T], key func(T) K) []Tagged[T] {
	seen := make(map[K]bool, len(items))
	deduped := items[:0:0]
	for _, it := range items {
		k := key(it.Item)
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, it)
	}
	return deduped
}

// SortByTimeDesc orders merged items most-recent-first. Fan-out itself
// guarantees no order; callers wanting one sort explicitly.
func SortByTimeDesc[T any](items []Tagged[T], timestamp func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return timestamp(items[i].Item).After(timestamp(items[j].Item))
	})
}
