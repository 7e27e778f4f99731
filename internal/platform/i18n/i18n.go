// Package i18n loads page message catalogs and resolves the request language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	// BaseLocale is the canonical source locale.
	BaseLocale = "en-US"
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the visitor's language preference.
	LangCookieName = "bookshelf_lang"
)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

type localeFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle holds the messages of every loaded locale.
type Bundle struct {
	tags     []language.Tag
	messages map[language.Tag]map[string]string
	catalog  *catalog.Builder
	matcher  language.Matcher
}

// LoadEmbedded loads the catalogs shipped with the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedLocales)
}

// LoadFromFS loads every locales/*.yaml file from fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	b := &Bundle{
		messages: map[language.Tag]map[string]string{},
		catalog:  catalog.NewBuilder(catalog.Fallback(language.MustParse(BaseLocale))),
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file localeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := b.add(p, file); err != nil {
			return nil, err
		}
	}

	base := language.MustParse(BaseLocale)
	if _, ok := b.messages[base]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	// The base locale leads so the matcher falls back to it.
	sort.SliceStable(b.tags, func(i, j int) bool { return b.tags[i] == base && b.tags[j] != base })
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func (b *Bundle) add(p string, file localeFile) error {
	locale := strings.TrimSpace(file.Locale)
	if locale == "" {
		return fmt.Errorf("catalog %s: locale is required", p)
	}
	if want := strings.TrimSuffix(path.Base(p), path.Ext(p)); locale != want {
		return fmt.Errorf("catalog %s: locale %q must match file name %q", p, locale, want)
	}
	if len(file.Messages) == 0 {
		return fmt.Errorf("catalog %s: messages are required", p)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("catalog %s: parse locale tag %q: %w", p, locale, err)
	}
	if _, exists := b.messages[tag]; exists {
		return fmt.Errorf("catalog %s: locale %q already defined", p, locale)
	}

	messages := make(map[string]string, len(file.Messages))
	for key, value := range file.Messages {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("catalog %s: message key cannot be blank", p)
		}
		if err := b.catalog.SetString(tag, key, value); err != nil {
			return fmt.Errorf("catalog %s: set %q: %w", p, key, err)
		}
		messages[key] = value
	}
	b.messages[tag] = messages
	b.tags = append(b.tags, tag)
	return nil
}

// Tags returns the supported language tags, base locale first.
func (b *Bundle) Tags() []language.Tag {
	return append([]language.Tag(nil), b.tags...)
}

// Keys returns the sorted message keys of tag.
func (b *Bundle) Keys(tag language.Tag) []string {
	keys := make([]string, 0, len(b.messages[tag]))
	for key := range b.messages[tag] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Printer returns a message printer for tag backed by this bundle.
func (b *Bundle) Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(b.catalog))
}

// Match returns the supported tag closest to value, or the base locale.
func (b *Bundle) Match(value string) (language.Tag, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return b.tags[0], false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return b.tags[0], false
	}
	_, idx, confidence := b.matcher.Match(tag)
	if confidence == language.No {
		return b.tags[0], false
	}
	return b.tags[idx], true
}

// ResolveTag picks the language for r from the lang query parameter, the
// language cookie or Accept-Language, in that order. persist reports
// whether the query parameter selected it and should be stored.
func (b *Bundle) ResolveTag(r *http.Request) (tag language.Tag, persist bool) {
	if r == nil {
		return b.tags[0], false
	}
	if tag, ok := b.Match(r.URL.Query().Get(LangParam)); ok {
		return tag, true
	}
	if cookie, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := b.Match(cookie.Value); ok {
			return tag, false
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, confidence := b.matcher.Match(tags...)
			if confidence != language.No {
				return b.tags[idx], false
			}
		}
	}
	return b.tags[0], false
}

// SetLanguageCookie persists the selected language on the response.
func SetLanguageCookie(w http.ResponseWriter, tag language.Tag) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}
