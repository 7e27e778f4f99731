// Package registry merges the capabilities contributed by update plugins and
// serves them by name once startup has finished.
//
// Every plugin returns one Set per category. Sets are folded in plugin
// discovery order: a name is inserted when absent and replaced only by a
// strictly higher priority, so equal priorities keep the first contribution.
// Because discovery order is the lexicographic order of plugin directory
// names, renaming a plugin directory can change which of two equal-priority
// contributions wins.
package registry

import (
	"fmt"
	"sort"
)

// Category names one of the four independent merge namespaces.
type Category string

const (
	Models   Category = "models"
	Schemas  Category = "schemas"
	Services Category = "services"
	Routers  Category = "routers"
)

// Categories returns the four categories in merge order.
func Categories() []Category {
	return []Category{Models, Schemas, Services, Routers}
}

// Contribution is one named capability proposed by a plugin.
type Contribution[V any] struct {
	Priority int
	Value    V
}

// Set is the contribution of one plugin to one category, keyed by name.
type Set[V any] map[string]Contribution[V]

// Entry is a merged contribution together with the plugin that supplied it.
type Entry[V any] struct {
	Contribution[V]
	Source string
}

// Merged is the running merge result for one category.
type Merged[V any] map[string]Entry[V]

// MergeResult counts what happened to the names of one incoming set.
type MergeResult struct {
	Inserted   []string
	Overridden []string
	Discarded  []string
	Rejected   []string

	closed bool
}

// Accepted returns how many names changed the merged mapping.
func (r MergeResult) Accepted() int {
	return len(r.Inserted) + len(r.Overridden)
}

// Err describes rejected names, or returns nil.
func (r MergeResult) Err() error {
	if r.closed {
		return ErrAlreadyPublished
	}
	if len(r.Rejected) == 0 {
		return nil
	}
	return fmt.Errorf("negative priority for %v", r.Rejected)
}

// Merge folds incoming into existing. Names are visited in sorted order so
// repeated runs report identically. Negative priorities are rejected and the
// item is skipped.
func Merge[V any](existing Merged[V], source string, incoming Set[V]) MergeResult {
	var result MergeResult
	for _, name := range sortedNames(incoming) {
		c := incoming[name]
		if c.Priority < 0 {
			result.Rejected = append(result.Rejected, name)
			continue
		}
		current, ok := existing[name]
		switch {
		case !ok:
			existing[name] = Entry[V]{Contribution: c, Source: source}
			result.Inserted = append(result.Inserted, name)
		case c.Priority > current.Priority:
			existing[name] = Entry[V]{Contribution: c, Source: source}
			result.Overridden = append(result.Overridden, name)
		default:
			result.Discarded = append(result.Discarded, name)
		}
	}
	return result
}

func sortedNames[M ~map[string]T, T any](m M) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
