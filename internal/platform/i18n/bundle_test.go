package i18n

import (
	"os"
	"path/filepath"
	"testing"
)

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := New("en", map[string]map[string]string{
		"en": {"greeting": "Hello, {name}!", "only_en": "English only"},
		"fr": {"greeting": "Bonjour, {name} !"},
		"uk": {"greeting": "Привіт, {name}!"},
		"ru": {"greeting": "Привет, {name}!"},
	})
	if err != nil {
		t.Fatalf("new bundle: %v", err)
	}
	return b
}

func TestRenderSubstitutesParams(t *testing.T) {
	b := testBundle(t)
	if got := b.Render("fr", "greeting", map[string]string{"name": "Anna"}); got != "Bonjour, Anna !" {
		t.Fatalf("unexpected render %q", got)
	}
	if got := b.Render("en", "greeting", nil); got != "Hello, {name}!" {
		t.Fatalf("expected placeholder to stay, got %q", got)
	}
}

func TestTFallsBack(t *testing.T) {
	b := testBundle(t)
	if got := b.T("fr", "only_en"); got != "English only" {
		t.Fatalf("expected fallback entry, got %q", got)
	}
	if got := b.T("de", "greeting"); got != "Hello, {name}!" {
		t.Fatalf("expected fallback language, got %q", got)
	}
	if got := b.T("en", "missing.key"); got != "missing.key" {
		t.Fatalf("expected key, got %q", got)
	}
}

func TestMatchResolvesPlatformCodes(t *testing.T) {
	b := testBundle(t)
	cases := map[string]string{
		"fr-FR": "fr",
		"uk_UA": "uk",
		"ru":    "ru",
		"en-GB": "en",
		"":      "en",
		"!!":    "en",
		"ja":    "en",
	}
	for code, want := range cases {
		if got := b.Match(code); got != want {
			t.Fatalf("Match(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestLoadReadsYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "en.yaml"), []byte("cart.empty: \"Your cart is empty\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := Load(dir, "en", []string{"en", "fr"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := b.T("fr", "cart.empty"); got != "Your cart is empty" {
		t.Fatalf("unexpected %q", got)
	}
	if b.IsSupported("fr") {
		t.Fatal("fr should not be supported without a file")
	}
	if _, err := Load(dir, "ru", []string{"ru"}); err == nil {
		t.Fatal("expected error for missing fallback file")
	}
}
