// Package plugins is the built-in updates directory. Each subdirectory with
// an update.yaml and a catalog entry is one update; directories starting
// with an underscore are skipped by discovery.
package plugins

import (
	"embed"
	"io/fs"

	apiv1 "github.com/louisbranch/bookshelf/internal/plugins/api_v1"
	frontendv1 "github.com/louisbranch/bookshelf/internal/plugins/frontend_v1"
	patch110126 "github.com/louisbranch/bookshelf/internal/plugins/patch_11_01_26"
	"github.com/louisbranch/bookshelf/internal/updates"
)

//go:embed */update.yaml
var manifests embed.FS

// Root returns the embedded updates directory.
func Root() fs.FS {
	return manifests
}

// Catalog registers every built-in update directory with its constructor.
// It panics on a duplicate or empty name.
func Catalog() updates.Catalog {
	catalog := updates.Catalog{}
	for _, p := range []struct {
		name string
		ctor updates.Constructor
	}{
		{apiv1.Name, apiv1.New},
		{frontendv1.Name, frontendv1.New},
		{patch110126.Name, patch110126.New},
	} {
		if err := catalog.Register(p.name, p.ctor); err != nil {
			panic(err)
		}
	}
	return catalog
}
