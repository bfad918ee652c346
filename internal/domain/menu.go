package domain

import (
	"sort"
	"strings"
)

// DefaultLanguage is used when a localized text has no entry for the requested language.
const DefaultLanguage = "en"

// LocalizedText maps language codes to display strings.
type LocalizedText map[string]string

// Get returns the text for lang, falling back to the default language and then any entry.
func (t LocalizedText) Get(lang string) string {
	if v, ok := t[strings.ToLower(strings.TrimSpace(lang))]; ok && v != "" {
		return v
	}
	if v, ok := t[DefaultLanguage]; ok && v != "" {
		return v
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if t[k] != "" {
			return t[k]
		}
	}
	return ""
}

// Restaurant captures contact details shown to customers.
type Restaurant struct {
	Name         LocalizedText `yaml:"name"`
	Phone        string        `yaml:"phone"`
	Address      string        `yaml:"address"`
	WorkingHours LocalizedText `yaml:"working_hours"`
}

// MenuItem is a purchasable product. Price is in minor currency units.
type MenuItem struct {
	ID          string        `yaml:"id"`
	Name        LocalizedText `yaml:"name"`
	Description LocalizedText `yaml:"description"`
	Price       int64         `yaml:"price"`
	Weight      int           `yaml:"weight"`
	Pieces      int           `yaml:"pieces"`
	Available   bool          `yaml:"available"`
	Popular     bool          `yaml:"popular"`
}

// Category groups menu items.
type Category struct {
	ID        string        `yaml:"id"`
	Name      LocalizedText `yaml:"name"`
	Emoji     string        `yaml:"emoji"`
	SortOrder int           `yaml:"sort_order"`
	Items     []MenuItem    `yaml:"items"`
}

// AvailableItems returns items currently offered for sale.
func (c Category) AvailableItems() []MenuItem {
	out := make([]MenuItem, 0, len(c.Items))
	for _, item := range c.Items {
		if item.Available {
			out = append(out, item)
		}
	}
	return out
}

// Menu is the static catalog loaded at startup.
type Menu struct {
	Restaurant Restaurant `yaml:"restaurant"`
	Currency   string     `yaml:"currency"`
	Categories []Category `yaml:"categories"`
}

// SortedCategories returns categories ordered by SortOrder then ID.
func (m Menu) SortedCategories() []Category {
	out := make([]Category, len(m.Categories))
	copy(out, m.Categories)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder == out[j].SortOrder {
			return out[i].ID < out[j].ID
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}
