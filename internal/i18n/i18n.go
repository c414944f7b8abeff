// Package i18n resolves user language preferences against the embedded
// message catalogs and renders localized strings.
package i18n

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

type Catalog struct {
	defaultLang string
	languages   []string
	matcher     language.Matcher
	messages    map[string]map[string]string
}

// Load parses every embedded locale file. defaultLang must name one of the
// shipped catalogs; it anchors the fallback chain.
func Load(defaultLang string) (*Catalog, error) {
	defaultLang = normalizeLang(defaultLang)
	if defaultLang == "" {
		defaultLang = "en"
	}

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	messages := make(map[string]map[string]string, len(entries))
	for _, e := range entries {
		name := e.Name()
		lang := normalizeLang(strings.TrimSuffix(name, path.Ext(name)))

		raw, err := localeFS.ReadFile(path.Join("locales", name))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", name, err)
		}
		catalog := map[string]string{}
		if err := yaml.Unmarshal(raw, &catalog); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", name, err)
		}
		messages[lang] = catalog
	}

	if _, ok := messages[defaultLang]; !ok {
		return nil, fmt.Errorf("default language %q has no catalog", defaultLang)
	}

	languages := make([]string, 0, len(messages))
	for lang := range messages {
		if lang != defaultLang {
			languages = append(languages, lang)
		}
	}
	sort.Strings(languages)
	// The matcher falls back to its first tag, so the default goes first.
	languages = append([]string{defaultLang}, languages...)

	tags := make([]language.Tag, 0, len(languages))
	for _, lang := range languages {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid locale tag %q: %w", lang, err)
		}
		tags = append(tags, tag)
	}

	return &Catalog{
		defaultLang: defaultLang,
		languages:   languages,
		matcher:     language.NewMatcher(tags),
		messages:    messages,
	}, nil
}

func (c *Catalog) DefaultLanguage() string {
	return c.defaultLang
}

func (c *Catalog) Languages() []string {
	out := make([]string, len(c.languages))
	copy(out, c.languages)
	return out
}

// Resolve maps an arbitrary preference string ("fr", "fr-CA", "zh-cn", junk)
// to a shipped catalog language, falling back to the default.
func (c *Catalog) Resolve(pref string) string {
	pref = normalizeLang(pref)
	if pref == "" {
		return c.defaultLang
	}
	tag, err := language.Parse(pref)
	if err != nil {
		return c.defaultLang
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return c.defaultLang
	}
	return c.languages[idx]
}

// T renders the message key for an already-resolved language. Missing keys
// fall back to the default catalog, then to the key itself so a broken
// catalog never blanks an email.
func (c *Catalog) T(lang, key string, data any) string {
	lang = normalizeLang(lang)
	text, ok := c.messages[lang][key]
	if !ok {
		text, ok = c.messages[c.defaultLang][key]
	}
	if !ok {
		return key
	}

	tmpl, err := template.New(key).Parse(text)
	if err != nil {
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return text
	}
	return strings.TrimRight(buf.String(), "\n")
}

func normalizeLang(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
