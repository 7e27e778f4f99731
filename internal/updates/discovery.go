package updates

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// PrivatePrefix marks directories ignored by discovery.
const PrivatePrefix = "_"

// Candidates lists the immediate subdirectories of root that are not private,
// in lexicographic order. This order decides priority ties.
func Candidates(root fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(root, ".")
	if err != nil {
		return nil, fmt.Errorf("read updates root: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), PrivatePrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Discover instantiates every candidate directory that has a catalog entry.
// Load failures are returned alongside the units that did load.
func (e *Engine) Discover(root fs.FS) ([]Unit, []Failure) {
	names, err := Candidates(root)
	if err != nil {
		return nil, []Failure{{Unit: ".", Stage: StageDiscover, Err: err}}
	}

	var (
		units    []Unit
		failures []Failure
	)
	for _, name := range names {
		ctor, ok := e.catalog[name]
		if !ok {
			e.logger.Debug("skipping directory without plugin", "dir", name)
			continue
		}
		manifest, err := ReadManifest(root, name)
		if err == nil {
			err = manifest.Supports(e.appVersion)
		}
		if err != nil {
			e.logger.Error("skipping plugin", "plugin", name, "stage", StageDiscover, "error", err)
			failures = append(failures, Failure{Unit: name, Stage: StageDiscover, Err: err})
			continue
		}
		plugin, err := construct(ctor)
		if err != nil {
			e.logger.Error("skipping plugin", "plugin", name, "stage", StageLoad, "error", err)
			failures = append(failures, Failure{Unit: name, Stage: StageLoad, Err: err})
			continue
		}
		units = append(units, Unit{Name: name, Manifest: manifest, Plugin: plugin})
	}
	return units, failures
}

func construct(ctor Constructor) (p Plugin, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p, err = nil, fmt.Errorf("constructor panicked: %v", recovered)
		}
	}()
	p, err = ctor()
	if err == nil && p == nil {
		err = fmt.Errorf("constructor returned no plugin")
	}
	return p, err
}
