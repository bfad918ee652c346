package services

import (
	"errors"
	"strings"
	"testing"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

func TestIsValidPhone(t *testing.T) {
	cases := map[string]bool{
		"+33612345678":      true,
		"0612345678":        true,
		"06 12 34 56 78":    true,
		"06-12-34-56-78":    true,
		"(06) 12.34.56.78":  true,
		"0033612345678":     true,
		"+123456789012345":  true,
		"+1234567890123456": false,
		"123":               false,
		"+123456789":        false,
		"phone 0612345678":  false,
		"":                  false,
	}
	for input, want := range cases {
		if got := IsValidPhone(input); got != want {
			t.Errorf("IsValidPhone(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestValidateNameBounds(t *testing.T) {
	if _, err := ValidateName(" A "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for short name, got %v", err)
	}
	if _, err := ValidateName(strings.Repeat("я", 51)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for long name, got %v", err)
	}
	name, err := ValidateName(strings.Repeat("я", 50))
	if err != nil {
		t.Fatalf("expected 50 runes to pass: %v", err)
	}
	if len([]rune(name)) != 50 {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestValidateNameStripsMarkup(t *testing.T) {
	name, err := ValidateName("<b>Anna</b> O'Neil")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Anna O'Neil" {
		t.Fatalf("expected markup stripped, got %q", name)
	}
}

func TestValidateAddress(t *testing.T) {
	var verr *ValidationError
	if _, err := ValidateAddress("rue"); !errors.As(err, &verr) || verr.Key != "checkout.invalid_address" {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if got, err := ValidateAddress("  12 rue de la Paix "); err != nil || got != "12 rue de la Paix" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

func TestValidateComment(t *testing.T) {
	if got, err := ValidateComment("   "); err != nil || got != domain.CommentNone {
		t.Fatalf("expected none for blank comment, got %q %v", got, err)
	}
	if _, err := ValidateComment(strings.Repeat("a", 501)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for long comment, got %v", err)
	}
	if got, err := ValidateComment(strings.Repeat("a", 500)); err != nil || len(got) != 500 {
		t.Fatalf("expected 500 characters to pass, got %d %v", len(got), err)
	}
}
