package services

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

const (
	minNameLength    = 2
	maxNameLength    = 50
	minAddressLength = 5
	maxCommentLength = 500
)

var (
	phoneSeparators = regexp.MustCompile(`[\s\-().]`)
	phonePatterns   = []*regexp.Regexp{
		regexp.MustCompile(`^(\+33|0033|0)\d{9}$`),
		regexp.MustCompile(`^\+\d{10,15}$`),
		regexp.MustCompile(`^\d{10}$`),
	}
	textPolicy = bluemonday.StrictPolicy()
)

// sanitizeText strips markup from customer input. Staff channels render the result as plain text.
func sanitizeText(value string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(value)))
}

// ValidateName returns the cleaned customer name.
func ValidateName(value string) (string, error) {
	name := sanitizeText(value)
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return "", newValidationError("name", "checkout.invalid_name")
	}
	return name, nil
}

// ValidatePhone accepts French national numbers, international numbers of 10 to 15 digits and bare 10 digit numbers.
// The returned value keeps the customer's formatting.
func ValidatePhone(value string) (string, error) {
	phone := strings.TrimSpace(value)
	if !IsValidPhone(phone) {
		return "", newValidationError("phone", "checkout.invalid_phone")
	}
	return phone, nil
}

// IsValidPhone reports whether value matches one of the accepted phone shapes.
func IsValidPhone(value string) bool {
	digits := phoneSeparators.ReplaceAllString(value, "")
	for _, pattern := range phonePatterns {
		if pattern.MatchString(digits) {
			return true
		}
	}
	return false
}

// ValidateAddress returns the cleaned delivery address.
func ValidateAddress(value string) (string, error) {
	address := sanitizeText(value)
	if utf8.RuneCountInString(address) < minAddressLength {
		return "", newValidationError("address", "checkout.invalid_address")
	}
	return address, nil
}

// ValidateComment maps empty comments to domain.CommentNone.
func ValidateComment(value string) (string, error) {
	comment := sanitizeText(value)
	if comment == "" {
		return domain.CommentNone, nil
	}
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return "", newValidationError("comment", "checkout.comment_too_long")
	}
	return comment, nil
}
