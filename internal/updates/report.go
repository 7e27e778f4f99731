package updates

import (
	"errors"
	"fmt"

	"github.com/louisbranch/bookshelf/internal/registry"
)

// Stage names where a plugin failure happened.
type Stage string

const (
	StageDiscover Stage = "discover"
	StageLoad     Stage = "load"
	StageHook     Stage = "hook"
	StageMerge    Stage = "merge"
)

// Failure is one contained plugin error.
type Failure struct {
	Unit     string
	Category registry.Category
	Stage    Stage
	Err      error
}

func (f Failure) Error() string {
	if f.Category != "" {
		return fmt.Sprintf("%s %s %s: %v", f.Stage, f.Unit, f.Category, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Unit, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Unit is a discovered and instantiated plugin.
type Unit struct {
	Name     string
	Manifest Manifest
	Plugin   Plugin
}

// UnitInfo describes a loaded unit in a Report.
type UnitInfo struct {
	Name    string              `json:"name"`
	Version string              `json:"version,omitempty"`
	Hooks   []registry.Category `json:"hooks"`
}

// CategoryStats totals the merge results of one category.
type CategoryStats struct {
	Inserted   int `json:"inserted"`
	Overridden int `json:"overridden"`
	Discarded  int `json:"discarded"`
	Names      int `json:"names"`
}

// Report is the outcome of one Initialize run.
type Report struct {
	Units      []UnitInfo                           `json:"units"`
	Failures   []Failure                            `json:"-"`
	Categories map[registry.Category]CategoryStats `json:"categories"`
}

// Err joins every failure, or returns nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// FailedUnits returns the distinct names of units with failures.
func (r Report) FailedUnits() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range r.Failures {
		if !seen[f.Unit] {
			seen[f.Unit] = true
			out = append(out, f.Unit)
		}
	}
	return out
}
