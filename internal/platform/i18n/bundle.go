package i18n

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Bundle holds flat key -> message dictionaries per language.
type Bundle struct {
	dict     map[string]map[string]string
	fallback string
	tags     []language.Tag
	names    []string
	matcher  language.Matcher
}

// Load reads <dir>/<lang>.yaml for every supported language. Only the fallback file is mandatory.
func Load(dir, fallback string, supported []string) (*Bundle, error) {
	fallback = strings.ToLower(strings.TrimSpace(fallback))
	if fallback == "" {
		return nil, errors.New("i18n: fallback language is required")
	}
	if len(supported) == 0 {
		supported = []string{fallback}
	}

	dicts := make(map[string]map[string]string, len(supported))
	for _, lang := range supported {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, lang+".yaml"))
		if err != nil {
			if lang == fallback {
				return nil, fmt.Errorf("i18n: load locale %s: %w", lang, err)
			}
			continue
		}
		messages := map[string]string{}
		if err := yaml.Unmarshal(raw, &messages); err != nil {
			return nil, fmt.Errorf("i18n: unmarshal %s: %w", lang, err)
		}
		dicts[lang] = messages
	}
	return New(fallback, dicts)
}

// New builds a bundle from in-memory dictionaries.
func New(fallback string, dicts map[string]map[string]string) (*Bundle, error) {
	if _, ok := dicts[fallback]; !ok {
		return nil, fmt.Errorf("i18n: fallback locale %s not loaded", fallback)
	}

	names := make([]string, 0, len(dicts))
	for lang := range dicts {
		names = append(names, lang)
	}
	sort.Strings(names)
	// The matcher prefers the first tag on ties, so the fallback goes first.
	ordered := append([]string{fallback}, without(names, fallback)...)
	tags := make([]language.Tag, 0, len(ordered))
	for _, lang := range ordered {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("i18n: invalid language %q: %w", lang, err)
		}
		tags = append(tags, tag)
	}

	return &Bundle{
		dict:     dicts,
		fallback: fallback,
		tags:     tags,
		names:    ordered,
		matcher:  language.NewMatcher(tags),
	}, nil
}

// Supported returns the loaded languages, sorted.
func (b *Bundle) Supported() []string {
	out := append([]string(nil), b.names...)
	sort.Strings(out)
	return out
}

// Fallback returns the default language.
func (b *Bundle) Fallback() string { return b.fallback }

// IsSupported reports whether lang has a loaded dictionary.
func (b *Bundle) IsSupported(lang string) bool {
	_, ok := b.dict[lang]
	return ok
}

// Match resolves a platform language code such as "fr-FR" or "uk_UA" to a loaded language.
func (b *Bundle) Match(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if code == "" {
		return b.fallback
	}
	tag, err := language.Parse(code)
	if err != nil {
		return b.fallback
	}
	_, index, confidence := b.matcher.Match(tag)
	if confidence < language.High {
		return b.fallback
	}
	return b.names[index]
}

// T returns the message for key in lang, falling back to the default language and finally the key.
func (b *Bundle) T(lang, key string) string {
	if m, ok := b.dict[lang]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := b.dict[b.fallback][key]; ok {
		return v
	}
	return key
}

// Render resolves key and substitutes {name} placeholders from params. Unknown placeholders stay verbatim.
func (b *Bundle) Render(lang, key string, params map[string]string) string {
	message := b.T(lang, key)
	if len(params) == 0 || !strings.Contains(message, "{") {
		return message
	}
	pairs := make([]string, 0, len(params)*2)
	for name, value := range params {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(message)
}

func without(values []string, drop string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
