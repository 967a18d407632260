package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pysugar/connector-nexus/internal/db/models"
	"github.com/pysugar/connector-nexus/internal/fanout"
)

// Item is one untyped result object from a connector instance.
type Item = map[string]any

// QueryOptions shapes a multi-instance query.
type QueryOptions struct {
	// Path is the relative request path, identical for every instance.
	Path string
	// Target restricts the query to one instance (by account name).
	// Empty means every instance.
	Target string
	// DedupeField names the natural key to collapse overlapping results
	// on. Empty disables deduplication.
	DedupeField string
	// SortField names an RFC 3339 timestamp field to order the merged
	// list most-recent-first by. Empty leaves fan-out order.
	SortField string
}

// QueryInstances fans one read across every configured instance of a
// logical connector (e.g. several issue-tracker sites) and merges the
// replies. Each merged item carries the name of the instance that
// produced it; an unreachable instance is logged and skipped, never
// failing the whole query.
func QueryInstances(ctx context.Context, deps Deps, instances []models.Account, opts QueryOptions) []fanout.Tagged[Item] {
	branches := make([]fanout.Branch, 0, len(instances))
	byID := make(map[string]*models.Account, len(instances))
	for i := range instances {
		acc := &instances[i]
		branches = append(branches, fanout.Branch{
			Label:     acc.Name,
			AccountID: acc.ID,
			Instance:  acc.Name,
		})
		byID[acc.ID] = acc
	}

	results := fanout.QueryAll(ctx, branches, func(ctx context.Context, b fanout.Branch) ([]Item, error) {
		value, err := fetchJSON(ctx, deps, byID[b.AccountID], opts.Path)
		if err != nil {
			return nil, err
		}
		return itemList(value)
	}, opts.Target)

	merged := fanout.MergeLists(results)

	if opts.DedupeField != "" {
		merged = fanout.DedupeBy(merged, func(it Item) string {
			return dedupeKey(it[opts.DedupeField])
		})
	}
	if opts.SortField != "" {
		fanout.SortByTimeDesc(merged, func(it Item) time.Time {
			ts, _ := it[opts.SortField].(string)
			parsed, _ := time.Parse(time.RFC3339, ts)
			return parsed
		})
	}
	return merged
}

// dedupeKey canonicalizes an arbitrary JSON value into a string key.
// The dedupe field comes from the request, so its value can be an array
// or object — types that cannot index a map directly.
func dedupeKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// itemList coerces a decoded JSON reply into a list of objects. Accepts
// either a bare array or an object whose "items" field is one.
func itemList(value any) ([]Item, error) {
	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case map[string]any:
		wrapped, ok := v["items"].([]any)
		if !ok {
			return nil, fmt.Errorf("response is not a list")
		}
		raw = wrapped
	default:
		return nil, fmt.Errorf("response is not a list")
	}

	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		if obj, ok := entry.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items, nil
}
