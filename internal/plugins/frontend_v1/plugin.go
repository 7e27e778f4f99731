// Package frontendv1 renders the HTML pages of the catalog.
package frontendv1

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/louisbranch/bookshelf/internal/platform/i18n"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/updates"
)

// Name is the plugin directory.
const Name = "frontend_v1"

// Prefix mounts the pages at the site root.
const Prefix = ""

//go:embed static
var staticFiles embed.FS

// Plugin contributes the page router.
type Plugin struct {
	bundle *i18n.Bundle
	static fs.FS
}

// New is the catalog constructor.
func New() (updates.Plugin, error) {
	bundle, err := i18n.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("load page messages: %w", err)
	}
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("open static files: %w", err)
	}
	return &Plugin{bundle: bundle, static: static}, nil
}

// RegisterRouters contributes the page router at the site root.
func (p *Plugin) RegisterRouters() (registry.Set[http.Handler], error) {
	return registry.Set[http.Handler]{
		Prefix: {Priority: 1, Value: Router(p.bundle, p.static)},
	}, nil
}
