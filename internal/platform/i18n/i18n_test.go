package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"golang.org/x/text/language"
)

func TestLoadEmbeddedLocalesShareKeys(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	tags := bundle.Tags()
	if len(tags) < 2 {
		t.Fatalf("expected at least two locales, got %v", tags)
	}
	if tags[0] != language.MustParse(BaseLocale) {
		t.Fatalf("expected base locale first, got %v", tags[0])
	}
	base := bundle.Keys(tags[0])
	for _, tag := range tags[1:] {
		keys := bundle.Keys(tag)
		if len(keys) != len(base) {
			t.Fatalf("locale %s has %d keys, base has %d", tag, len(keys), len(base))
		}
		for i := range keys {
			if keys[i] != base[i] {
				t.Fatalf("locale %s key %q does not match base %q", tag, keys[i], base[i])
			}
		}
	}
}

func TestPrinterTranslates(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	if got := bundle.Printer(language.MustParse("pt-BR")).Sprintf("nav.books"); got != "Livros" {
		t.Fatalf("pt-BR nav.books = %q", got)
	}
	if got := bundle.Printer(language.MustParse("en-US")).Sprintf("home.heading", "Bookshelf"); got != "Welcome to Bookshelf" {
		t.Fatalf("en-US home.heading = %q", got)
	}
}

func TestLoadFromFSRequiresBaseLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/pt-BR.yaml": {Data: []byte("locale: pt-BR\nmessages:\n  a: b\n")},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected missing base locale error")
	}
}

func TestLoadFromFSRejectsMismatchedLocale(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en-US.yaml": {Data: []byte("locale: pt-BR\nmessages:\n  a: b\n")},
	}
	if _, err := LoadFromFS(fsys); err == nil {
		t.Fatal("expected locale mismatch error")
	}
}

func TestResolveTag(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	ptBR := language.MustParse("pt-BR")
	enUS := language.MustParse("en-US")

	tests := []struct {
		name    string
		setup   func(*http.Request)
		want    language.Tag
		persist bool
	}{
		{name: "default", setup: func(*http.Request) {}, want: enUS},
		{name: "query", setup: func(r *http.Request) {
			q := r.URL.Query()
			q.Set(LangParam, "pt-BR")
			r.URL.RawQuery = q.Encode()
		}, want: ptBR, persist: true},
		{name: "cookie", setup: func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: LangCookieName, Value: "pt-BR"})
		}, want: ptBR},
		{name: "accept language", setup: func(r *http.Request) {
			r.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")
		}, want: ptBR},
		{name: "unsupported", setup: func(r *http.Request) {
			r.Header.Set("Accept-Language", "ja")
		}, want: enUS},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(req)
			got, persist := bundle.ResolveTag(req)
			if got != tc.want || persist != tc.persist {
				t.Fatalf("ResolveTag = %v, %v; want %v, %v", got, persist, tc.want, tc.persist)
			}
		})
	}
}

func TestSetLanguageCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetLanguageCookie(rec, language.MustParse("pt-BR"))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != LangCookieName || cookies[0].Value != "pt-BR" {
		t.Fatalf("unexpected cookies %v", cookies)
	}
}
