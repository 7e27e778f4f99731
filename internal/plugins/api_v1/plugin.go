// Package apiv1 is the base update: the books model, its schemas, the SQL
// services and the JSON API.
package apiv1

import (
	"net/http"

	"github.com/louisbranch/bookshelf/internal/books"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/schema"
	"github.com/louisbranch/bookshelf/internal/storage"
	"github.com/louisbranch/bookshelf/internal/updates"
)

// Name is the plugin directory.
const Name = "api_v1"

// Mount prefixes of the routers contributed by this update.
const (
	BooksPrefix = "/api/v1/books"
	AdminPrefix = "/api/v1/admin"
)

const basePriority = 1

// Plugin contributes every capability category.
type Plugin struct{}

// New is the catalog constructor.
func New() (updates.Plugin, error) {
	return Plugin{}, nil
}

// RegisterModels contributes the books table.
func (Plugin) RegisterModels() (registry.Set[storage.Model], error) {
	return registry.Set[storage.Model]{
		books.ModelBook: {Priority: basePriority, Value: books.Model()},
	}, nil
}

// RegisterSchemas contributes the create input and book output schemas.
func (Plugin) RegisterSchemas() (registry.Set[*schema.Schema], error) {
	add, err := schema.Reflect(books.SchemaBookAdd, &books.NewBook{})
	if err != nil {
		return nil, err
	}
	book, err := schema.Reflect(books.SchemaBook, &books.Book{})
	if err != nil {
		return nil, err
	}
	return registry.Set[*schema.Schema]{
		books.SchemaBookAdd: {Priority: basePriority, Value: add},
		books.SchemaBook:    {Priority: basePriority, Value: book},
	}, nil
}

// RegisterServices contributes the SQL book services.
func (Plugin) RegisterServices(sessions storage.SessionFactory) (registry.Set[any], error) {
	repo := books.NewRepository(sessions)
	return registry.Set[any]{
		books.ServiceListBooks:  {Priority: basePriority, Value: books.ListFunc(repo.List)},
		books.ServiceGetBook:    {Priority: basePriority, Value: books.GetFunc(repo.Get)},
		books.ServiceCreateBook: {Priority: basePriority, Value: books.CreateFunc(repo.Create)},
	}, nil
}

// RegisterRouters contributes the books and admin APIs.
func (Plugin) RegisterRouters() (registry.Set[http.Handler], error) {
	return registry.Set[http.Handler]{
		BooksPrefix: {Priority: basePriority, Value: BooksRouter()},
		AdminPrefix: {Priority: basePriority, Value: AdminRouter()},
	}, nil
}
