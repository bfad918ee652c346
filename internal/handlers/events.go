package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/korisu-sushi/sushi-bot/internal/platform/httpx"
	"github.com/korisu-sushi/sushi-bot/internal/platform/requestctx"
	"github.com/korisu-sushi/sushi-bot/internal/services"
)

const maxEventBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

// EventHandlers accepts chat events from the transport adapter and answers with the next message.
type EventHandlers struct {
	conversation services.ConversationService
	localizer    services.Localizer
	limiter      rateLimiter
}

// EventHandlersOption customises EventHandlers.
type EventHandlersOption func(*EventHandlers)

// WithEventRateLimit caps the events accepted per owner within window. Non-positive values disable the limit.
func WithEventRateLimit(limit int, window time.Duration) EventHandlersOption {
	return func(h *EventHandlers) {
		h.limiter = newOwnerRateLimiter(limit, window, time.Now)
	}
}

// NewEventHandlers constructs the event endpoint.
func NewEventHandlers(conversation services.ConversationService, localizer services.Localizer, opts ...EventHandlersOption) *EventHandlers {
	h := &EventHandlers{conversation: conversation, localizer: localizer}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires POST /events.
func (h *EventHandlers) Routes(r chi.Router) {
	r.Post("/events", h.handleEvent)
}

type eventRequest struct {
	EventID      string `json:"event_id"`
	OwnerID      string `json:"owner_id"`
	Username     string `json:"username,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`
	Kind         string `json:"kind"`
	// Value echoes the pressed option's value.
	Value    string `json:"value,omitempty"`
	Text     string `json:"text,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

type eventResponse struct {
	Language string            `json:"language"`
	Text     string            `json:"text"`
	TextKey  string            `json:"text_key"`
	Keyboard services.Keyboard `json:"keyboard"`
	Alert    bool              `json:"alert,omitempty"`
}

func (h *EventHandlers) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.conversation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("conversation_unavailable", "conversation service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxEventBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be a JSON event", http.StatusBadRequest))
		return
	}

	event, err := req.toEvent()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	requestctx.SetEvent(ctx, requestctx.EventInfo{EventID: event.EventID, OwnerID: event.OwnerID, Kind: string(event.Kind)})

	if h.limiter != nil && !h.limiter.Allow(event.OwnerID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many events, slow down", http.StatusTooManyRequests))
		return
	}

	resp, err := h.conversation.Handle(ctx, event)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "invalid "+verr.Field, http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unable to handle event", http.StatusInternalServerError))
		return
	}

	out := eventResponse{
		Language: resp.Language,
		TextKey:  resp.TextKey,
		Text:     resp.TextKey,
		Keyboard: resp.Keyboard,
		Alert:    resp.Alert,
	}
	if h.localizer != nil {
		out.Text = h.localizer.Render(resp.Language, resp.TextKey, resp.Params)
	}
	writeJSONResponse(w, http.StatusOK, out)
}

func (req eventRequest) toEvent() (services.Event, error) {
	event := services.Event{
		EventID:      strings.TrimSpace(req.EventID),
		OwnerID:      strings.TrimSpace(req.OwnerID),
		Username:     strings.TrimSpace(req.Username),
		LanguageHint: strings.TrimSpace(req.LanguageHint),
		Kind:         services.EventKind(strings.ToLower(strings.TrimSpace(req.Kind))),
	}
	if event.OwnerID == "" {
		return services.Event{}, errors.New("owner_id is required")
	}
	if !event.Kind.Valid() {
		return services.Event{}, errors.New("unknown event kind")
	}

	value := strings.TrimSpace(req.Value)
	payload := services.EventPayload{Quantity: req.Quantity, Text: req.Text}
	switch event.Kind {
	case services.EventSetLanguage:
		payload.Language = value
	case services.EventShowCategory:
		payload.CategoryID = value
	case services.EventShowItem, services.EventCartAdd, services.EventCartIncrement, services.EventCartDecrement, services.EventCartRemove:
		payload.ProductID = value
	case services.EventDeliveryType:
		payload.DeliveryType = value
	case services.EventDay:
		payload.Day = value
	case services.EventTimeSlot:
		hour, err := strconv.Atoi(value)
		if err != nil {
			return services.Event{}, errors.New("time_slot value must be an hour")
		}
		payload.Hour = hour
	case services.EventText:
		if payload.Text == "" {
			payload.Text = req.Value
		}
	}
	event.Payload = payload
	return event, nil
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
