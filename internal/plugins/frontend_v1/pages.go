package frontendv1

import (
	"io/fs"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/bookshelf/internal/books"
	"github.com/louisbranch/bookshelf/internal/host"
	"github.com/louisbranch/bookshelf/internal/platform/i18n"
	"github.com/louisbranch/bookshelf/internal/platform/logging"
)

// defaultTitle names the site when no host env is attached.
const defaultTitle = "Bookshelf"

// Router serves the pages and their static assets.
func Router(bundle *i18n.Bundle, static fs.FS) http.Handler {
	h := &pages{bundle: bundle}
	r := chi.NewRouter()
	r.Get("/", h.home)
	r.Get("/about", h.about)
	r.Get("/books", h.bookList)
	if static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))
	}
	return r
}

type pages struct {
	bundle *i18n.Bundle
}

func (h *pages) page(w http.ResponseWriter, r *http.Request) page {
	tag, persist := h.bundle.ResolveTag(r)
	if persist {
		i18n.SetLanguageCookie(w, tag)
	}
	app := host.AppInfo{Title: defaultTitle}
	if env, ok := host.FromContext(r.Context()); ok && env.App.Title != "" {
		app = env.App
	}
	return page{
		Lang:    tag.String(),
		Path:    r.URL.Path,
		App:     app,
		Printer: h.bundle.Printer(tag),
	}
}

func (h *pages) home(w http.ResponseWriter, r *http.Request) {
	templ.Handler(homePage(h.page(w, r))).ServeHTTP(w, r)
}

func (h *pages) about(w http.ResponseWriter, r *http.Request) {
	templ.Handler(aboutPage(h.page(w, r))).ServeHTTP(w, r)
}

// bookList renders the catalog through whichever get_all_books service won the
// merge. A missing or failing service renders an empty list.
func (h *pages) bookList(w http.ResponseWriter, r *http.Request) {
	p := h.page(w, r)
	var list []books.Book
	listBooks, err := host.Service[books.ListFunc](r, books.ServiceListBooks)
	if err == nil {
		list, err = listBooks(r.Context())
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("books page without listing", "error", err)
		list = nil
	}
	templ.Handler(booksPage(p, list)).ServeHTTP(w, r)
}
