// Package updates discovers update plugins and merges their contributions
// into a registry at startup.
package updates

import (
	"net/http"

	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/schema"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// Plugin is an instantiated update. It implements any subset of the
// registrar interfaces below; a missing hook contributes nothing.
type Plugin any

// ModelRegistrar contributes storage models.
type ModelRegistrar interface {
	RegisterModels() (registry.Set[storage.Model], error)
}

// SchemaRegistrar contributes request and response schemas.
type SchemaRegistrar interface {
	RegisterSchemas() (registry.Set[*schema.Schema], error)
}

// ServiceRegistrar contributes service functions. sessions is forwarded
// untouched from the embedding application.
type ServiceRegistrar interface {
	RegisterServices(sessions storage.SessionFactory) (registry.Set[any], error)
}

// RouterRegistrar contributes HTTP routers keyed by mount prefix.
type RouterRegistrar interface {
	RegisterRouters() (registry.Set[http.Handler], error)
}

// Hooks lists the categories p contributes to, in merge order.
func Hooks(p Plugin) []registry.Category {
	var out []registry.Category
	if _, ok := p.(ModelRegistrar); ok {
		out = append(out, registry.Models)
	}
	if _, ok := p.(SchemaRegistrar); ok {
		out = append(out, registry.Schemas)
	}
	if _, ok := p.(ServiceRegistrar); ok {
		out = append(out, registry.Services)
	}
	if _, ok := p.(RouterRegistrar); ok {
		out = append(out, registry.Routers)
	}
	return out
}
