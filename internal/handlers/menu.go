package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
	"github.com/korisu-sushi/sushi-bot/internal/platform/httpx"
	"github.com/korisu-sushi/sushi-bot/internal/services"
)

// MenuHandlers exposes the read-only catalog, localized by the lang query parameter.
type MenuHandlers struct {
	catalog   services.CatalogService
	languages services.LanguageMatcher
}

// NewMenuHandlers constructs the catalog endpoints.
func NewMenuHandlers(catalog services.CatalogService, languages services.LanguageMatcher) *MenuHandlers {
	return &MenuHandlers{catalog: catalog, languages: languages}
}

// Routes wires GET /menu and GET /menu/items/{productId}.
func (h *MenuHandlers) Routes(r chi.Router) {
	r.Get("/menu", h.getMenu)
	r.Get("/menu/items/{productId}", h.getItem)
}

type menuResponse struct {
	Language   string            `json:"language"`
	Restaurant restaurantPayload `json:"restaurant"`
	Currency   string            `json:"currency"`
	Categories []categoryPayload `json:"categories"`
}

type restaurantPayload struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	WorkingHours string `json:"working_hours,omitempty"`
}

type categoryPayload struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Emoji string        `json:"emoji,omitempty"`
	Items []itemPayload `json:"items"`
}

type itemPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	PriceLabel  string `json:"price_label"`
	Weight      int    `json:"weight,omitempty"`
	Pieces      int    `json:"pieces,omitempty"`
	Popular     bool   `json:"popular,omitempty"`
}

func (h *MenuHandlers) getMenu(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	lang := h.language(r)
	currency := h.catalog.Currency()
	restaurant := h.catalog.Restaurant()
	resp := menuResponse{
		Language: lang,
		Restaurant: restaurantPayload{
			Name:         restaurant.Name.Get(lang),
			Phone:        restaurant.Phone,
			Address:      restaurant.Address,
			WorkingHours: restaurant.WorkingHours.Get(lang),
		},
		Currency: currency,
	}
	for _, category := range h.catalog.Categories() {
		payload := categoryPayload{
			ID:    category.ID,
			Name:  category.Name.Get(lang),
			Emoji: category.Emoji,
			Items: make([]itemPayload, 0, len(category.Items)),
		}
		for _, item := range category.AvailableItems() {
			payload.Items = append(payload.Items, buildItemPayload(item, lang, currency))
		}
		resp.Categories = append(resp.Categories, payload)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *MenuHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	item, err := h.catalog.Product(strings.TrimSpace(chi.URLParam(r, "productId")))
	if err != nil || !item.Available {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildItemPayload(item, h.language(r), h.catalog.Currency()))
}

func (h *MenuHandlers) language(r *http.Request) string {
	code := r.URL.Query().Get("lang")
	if code == "" {
		code = r.Header.Get("Accept-Language")
		if i := strings.IndexAny(code, ",;"); i >= 0 {
			code = code[:i]
		}
	}
	if h.languages == nil {
		return domain.DefaultLanguage
	}
	return h.languages.Match(code)
}

func buildItemPayload(item domain.MenuItem, lang, currency string) itemPayload {
	return itemPayload{
		ID:          item.ID,
		Name:        item.Name.Get(lang),
		Description: item.Description.Get(lang),
		Price:       item.Price,
		PriceLabel:  domain.FormatAmount(item.Price, currency),
		Weight:      item.Weight,
		Pieces:      item.Pieces,
		Popular:     item.Popular,
	}
}
