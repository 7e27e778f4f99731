// Package patch110126 replaces the book listing with a title-sorted one and
// adds catalog statistics.
package patch110126

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/bookshelf/internal/books"
	"github.com/louisbranch/bookshelf/internal/host"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/ratelimit"
	"github.com/louisbranch/bookshelf/internal/registry"
	"github.com/louisbranch/bookshelf/internal/storage"
	"github.com/louisbranch/bookshelf/internal/updates"
)

// Name is the plugin directory.
const Name = "patch_11_01_26"

// StatsPrefix mounts the statistics router.
const StatsPrefix = "/stats"

// overridePriority outranks the base listing.
const overridePriority = 2

// Plugin overrides services and adds a router.
type Plugin struct{}

// New is the catalog constructor.
func New() (updates.Plugin, error) {
	return Plugin{}, nil
}

// RegisterServices overrides get_all_books and adds get_stats.
func (Plugin) RegisterServices(sessions storage.SessionFactory) (registry.Set[any], error) {
	repo := books.NewRepository(sessions)
	return registry.Set[any]{
		books.ServiceListBooks: {Priority: overridePriority, Value: books.ListFunc(repo.ListByTitle)},
		books.ServiceStats:     {Priority: 1, Value: books.StatsFunc(repo.Stats)},
	}, nil
}

// RegisterRouters adds the statistics endpoint.
func (Plugin) RegisterRouters() (registry.Set[http.Handler], error) {
	return registry.Set[http.Handler]{
		StatsPrefix: {Priority: 1, Value: StatsRouter()},
	}, nil
}

// StatsRouter serves GET / with the book and author counts.
func StatsRouter() http.Handler {
	r := chi.NewRouter()
	r.With(host.Limit("get_stats", ratelimit.Low)).Get("/", getStats)
	return r
}

func getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := host.Service[books.StatsFunc](r, books.ServiceStats)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := stats(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, out)
}
