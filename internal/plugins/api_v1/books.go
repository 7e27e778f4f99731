package apiv1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/louisbranch/bookshelf/internal/books"
	"github.com/louisbranch/bookshelf/internal/host"
	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/platform/httpx"
	"github.com/louisbranch/bookshelf/internal/ratelimit"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// BookNotFound is the detail returned for unknown ids.
const BookNotFound = "Book not found"

// CreateResponse is returned after a book is created.
type CreateResponse struct {
	Success bool  `json:"success"`
	BookID  int64 `json:"book_id"`
}

// BooksRouter serves the book collection API.
func BooksRouter() http.Handler {
	r := chi.NewRouter()
	r.With(host.Limit("get_books", ratelimit.Low)).Get("/", listBooks)
	r.With(host.Limit("get_book", ratelimit.Low)).Get("/{id}", getBook)
	r.With(host.Limit("create_book", ratelimit.Medium)).Post("/", createBook)
	return r
}

func listBooks(w http.ResponseWriter, r *http.Request) {
	list, err := host.Service[books.ListFunc](r, books.ServiceListBooks)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	out, err := list(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if out == nil {
		out = []books.Book{}
	}
	_ = httpx.WriteJSON(w, http.StatusOK, out)
}

func getBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, r, apperrors.E(apperrors.KindInvalidInput, "book id must be an integer"))
		return
	}
	get, err := host.Service[books.GetFunc](r, books.ServiceGetBook)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	book, err := get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteDetail(w, http.StatusNotFound, BookNotFound)
		return
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, book)
}

func createBook(w http.ResponseWriter, r *http.Request) {
	env, ok := host.FromContext(r.Context())
	if !ok || env.Registry == nil {
		httpx.WriteError(w, r, apperrors.E(apperrors.KindUnavailable, "service registry is not available"))
		return
	}
	addSchema, ok := env.Registry.Schema(books.SchemaBookAdd)
	if !ok {
		httpx.WriteError(w, r, apperrors.E(apperrors.KindUnavailable, "schema "+books.SchemaBookAdd+" is not registered"))
		return
	}
	payload, err := createPayload(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var input books.NewBook
	if err := addSchema.Decode(payload, &input); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	create, err := host.Service[books.CreateFunc](r, books.ServiceCreateBook)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	id, err := create(r.Context(), input)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, CreateResponse{Success: true, BookID: id})
}

// createPayload reads a JSON body, or title and author query parameters
// when the request has no JSON body.
func createPayload(r *http.Request) (any, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return httpx.DecodeJSON(r)
	}
	q := r.URL.Query()
	payload := map[string]any{}
	for _, field := range []string{"title", "author"} {
		if q.Has(field) {
			payload[field] = q.Get(field)
		}
	}
	return payload, nil
}
