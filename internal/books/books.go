// Package books holds the book catalog types shared by update plugins and
// the SQL used by the base services.
package books

import (
	"context"

	"github.com/louisbranch/bookshelf/internal/storage"
)

// Registry names used by plugins and handlers.
const (
	ModelBook = "BookModel"

	SchemaBookAdd = "BookAddSchema"
	SchemaBook    = "BookSchema"

	ServiceListBooks  = "get_all_books"
	ServiceGetBook    = "get_book_by_id"
	ServiceCreateBook = "create_book"
	ServiceStats      = "get_stats"
)

// Book is one catalog entry.
type Book struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// NewBook is the input for creating a book.
type NewBook struct {
	Title  string `json:"title" jsonschema:"minLength=1,maxLength=255"`
	Author string `json:"author" jsonschema:"minLength=1,maxLength=255"`
}

// Stats summarizes the catalog.
type Stats struct {
	BooksCount   int `json:"books_count"`
	AuthorsCount int `json:"authors_count"`
}

// Service signatures stored in the registry.
type (
	ListFunc   func(ctx context.Context) ([]Book, error)
	GetFunc    func(ctx context.Context, id int64) (Book, error)
	CreateFunc func(ctx context.Context, input NewBook) (int64, error)
	StatsFunc  func(ctx context.Context) (Stats, error)
)

// Migration creates the books table.
const Migration = `-- +migrate Up
CREATE TABLE IF NOT EXISTS books (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    author TEXT NOT NULL
);
-- +migrate Down
DROP TABLE IF EXISTS books;
`

// Model is the storage model for the books table.
func Model() storage.Model {
	return storage.Model{Name: ModelBook, Table: "books", Migration: Migration}
}
