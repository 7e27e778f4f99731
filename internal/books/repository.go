package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/bookshelf/internal/platform/errors"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// Repository runs book queries through a session factory.
type Repository struct {
	sessions storage.SessionFactory
}

// NewRepository returns a repository over sessions.
func NewRepository(sessions storage.SessionFactory) *Repository {
	return &Repository{sessions: sessions}
}

// List returns every book ordered by id.
func (r *Repository) List(ctx context.Context) ([]Book, error) {
	return r.Query(ctx, "SELECT id, title, author FROM books ORDER BY id")
}

// ListByTitle returns every book ordered by title, then id.
func (r *Repository) ListByTitle(ctx context.Context) ([]Book, error) {
	return r.Query(ctx, "SELECT id, title, author FROM books ORDER BY title, id")
}

// Query runs a select returning id, title and author columns.
func (r *Repository) Query(ctx context.Context, query string, args ...any) ([]Book, error) {
	out := []Book{}
	err := storage.WithSession(ctx, r.sessions, func(s *storage.Session) error {
		rows, err := s.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b Book
			if err := rows.Scan(&b.ID, &b.Title, &b.Author); err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return out, nil
}

// Get returns the book with id or storage.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (Book, error) {
	var b Book
	err := storage.WithSession(ctx, r.sessions, func(s *storage.Session) error {
		return s.QueryRowContext(ctx, "SELECT id, title, author FROM books WHERE id = ?", id).Scan(&b.ID, &b.Title, &b.Author)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, storage.ErrNotFound
	}
	if err != nil {
		return Book{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return b, nil
}

// Create inserts a book and returns its id.
func (r *Repository) Create(ctx context.Context, input NewBook) (int64, error) {
	title := strings.TrimSpace(input.Title)
	author := strings.TrimSpace(input.Author)
	if title == "" || author == "" {
		return 0, apperrors.E(apperrors.KindInvalidInput, "title and author are required")
	}
	var id int64
	err := storage.WithSession(ctx, r.sessions, func(s *storage.Session) error {
		res, err := s.ExecContext(ctx, "INSERT INTO books (title, author) VALUES (?, ?)", title, author)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// Stats counts books and distinct authors.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := storage.WithSession(ctx, r.sessions, func(s *storage.Session) error {
		return s.QueryRowContext(ctx, "SELECT COUNT(id), COUNT(DISTINCT author) FROM books").Scan(&st.BooksCount, &st.AuthorsCount)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("book stats: %w", err)
	}
	return st, nil
}
