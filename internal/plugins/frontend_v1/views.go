package frontendv1

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"
	"golang.org/x/text/message"

	"github.com/louisbranch/bookshelf/internal/books"
	"github.com/louisbranch/bookshelf/internal/host"
)

// page carries what every layout needs.
type page struct {
	Lang    string
	Path    string
	App     host.AppInfo
	Printer *message.Printer
}

type navLink struct {
	Href string
	Key  string
}

var navLinks = []navLink{
	{Href: "/", Key: "nav.home"},
	{Href: "/about", Key: "nav.about"},
	{Href: "/books", Key: "nav.books"},
}

// htmlWriter keeps the first write error so components read linearly.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) attr(s string) {
	h.text(string(templ.URL(s)))
}

// layout wraps body in the shared document chrome.
func layout(p page, heading string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		out := &htmlWriter{w: w}
		out.raw(`<!DOCTYPE html><html lang="`)
		out.text(p.Lang)
		out.raw(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		out.text(heading + " | " + p.App.Title)
		out.raw(`</title><link rel="stylesheet" href="/static/app.css"></head><body><header><strong>`)
		out.text(p.App.Title)
		out.raw(`</strong><nav><ul class="nav-links">`)
		for _, link := range navLinks {
			out.raw(`<li><a href="`)
			out.attr(link.Href)
			out.raw(`"`)
			if link.Href == p.Path {
				out.raw(` class="active" aria-current="page"`)
			}
			out.raw(`>`)
			out.text(p.Printer.Sprintf(link.Key))
			out.raw(`</a></li>`)
		}
		out.raw(`</ul></nav></header><main><h1>`)
		out.text(heading)
		out.raw(`</h1>`)
		if out.err != nil {
			return out.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		out.raw(`</main><script src="/static/app.js" defer></script></body></html>`)
		return out.err
	})
}

func homePage(p page) templ.Component {
	heading := p.Printer.Sprintf("home.heading", p.App.Title)
	return layout(p, heading, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		out := &htmlWriter{w: w}
		if p.App.Description != "" {
			out.raw(`<p class="muted">`)
			out.text(p.App.Description)
			out.raw(`</p>`)
		}
		out.raw(`<p>`)
		out.text(p.Printer.Sprintf("home.body"))
		out.raw(`</p><p><a href="/api">`)
		out.text(p.Printer.Sprintf("home.api"))
		out.raw(`</a></p>`)
		return out.err
	}))
}

func aboutPage(p page) templ.Component {
	return layout(p, p.Printer.Sprintf("about.heading"), templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		out := &htmlWriter{w: w}
		out.raw(`<p>`)
		out.text(p.Printer.Sprintf("about.body", p.App.Title, p.App.Version))
		out.raw(`</p>`)
		return out.err
	}))
}

func booksPage(p page, list []books.Book) templ.Component {
	return layout(p, p.Printer.Sprintf("books.heading"), templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		out := &htmlWriter{w: w}
		if len(list) == 0 {
			out.raw(`<p class="muted" id="books-empty">`)
			out.text(p.Printer.Sprintf("books.empty"))
			out.raw(`</p>`)
			return out.err
		}
		out.raw(`<p class="muted">`)
		out.text(p.Printer.Sprintf("books.count", len(list)))
		out.raw(`</p><table id="books"><thead><tr><th>#</th><th>`)
		out.text(p.Printer.Sprintf("books.title"))
		out.raw(`</th><th>`)
		out.text(p.Printer.Sprintf("books.author"))
		out.raw(`</th></tr></thead><tbody>`)
		for _, b := range list {
			out.raw(`<tr><td>`)
			out.text(strconv.FormatInt(b.ID, 10))
			out.raw(`</td><td>`)
			out.text(b.Title)
			out.raw(`</td><td>`)
			out.text(b.Author)
			out.raw(`</td></tr>`)
		}
		out.raw(`</tbody></table>`)
		return out.err
	}))
}
