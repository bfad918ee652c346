package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/korisu-sushi/sushi-bot/internal/domain"
)

// LanguageMatcher resolves platform language codes to a supported language.
type LanguageMatcher interface {
	Match(code string) string
	Supported() []string
}

// ConversationServiceDeps bundles collaborators used to answer transport events.
type ConversationServiceDeps struct {
	Catalog   CatalogService
	Carts     CartService
	Checkout  CheckoutService
	Machine   *CheckoutMachine
	Localizer Localizer
	Languages LanguageMatcher
	Clock     func() time.Time
	Logger    Logger
	Metrics   MetricsRecorder
}

type conversationService struct {
	catalog   CatalogService
	carts     CartService
	checkout  CheckoutService
	machine   *CheckoutMachine
	localizer Localizer
	languages LanguageMatcher
	clock     func() time.Time
	logger    Logger
	metrics   MetricsRecorder
}

// NewConversationService constructs the event router.
func NewConversationService(deps ConversationServiceDeps) (ConversationService, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("conversation service: catalog is required")
	case deps.Carts == nil:
		return nil, errors.New("conversation service: cart service is required")
	case deps.Checkout == nil:
		return nil, errors.New("conversation service: checkout service is required")
	case deps.Machine == nil:
		return nil, errors.New("conversation service: checkout machine is required")
	case deps.Localizer == nil:
		return nil, errors.New("conversation service: localizer is required")
	case deps.Languages == nil:
		return nil, errors.New("conversation service: language matcher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	var metrics MetricsRecorder = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &conversationService{
		catalog:   deps.Catalog,
		carts:     deps.Carts,
		checkout:  deps.Checkout,
		machine:   deps.Machine,
		localizer: deps.Localizer,
		languages: deps.Languages,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Handle answers one event. Only malformed events return an error; failures of the owner's
// request are turned into re-prompts or alerts so they never leak to other owners.
func (s *conversationService) Handle(ctx context.Context, event Event) (Response, error) {
	event.OwnerID = strings.TrimSpace(event.OwnerID)
	if event.OwnerID == "" {
		return Response{}, newValidationError("owner_id", "error.invalid_event")
	}
	if !event.Kind.Valid() {
		return Response{}, newValidationError("kind", "error.invalid_event")
	}

	lang, err := s.language(ctx, event)
	if err != nil {
		s.metrics.ObserveEvent(string(event.Kind), err)
		return s.failure(ctx, event, s.languages.Match(event.LanguageHint), err), nil
	}

	resp, err := s.route(ctx, event, lang)
	s.metrics.ObserveEvent(string(event.Kind), err)
	if err != nil {
		return s.failure(ctx, event, lang, err), nil
	}
	if resp.Language == "" {
		resp.Language = lang
	}
	return resp, nil
}

func (s *conversationService) language(ctx context.Context, event Event) (string, error) {
	session, err := s.checkout.Current(ctx, event.OwnerID)
	if err != nil {
		return "", err
	}
	if session.UpdatedAt.IsZero() && strings.TrimSpace(event.LanguageHint) != "" {
		return s.languages.Match(event.LanguageHint), nil
	}
	return s.languages.Match(session.Language), nil
}

func (s *conversationService) failure(ctx context.Context, event Event, lang string, err error) Response {
	var verr *ValidationError
	var nf *NotFoundError
	var pre *PreconditionError
	switch {
	case errors.As(err, &verr):
		resp := Response{TextKey: verr.Key}
		if keyboard, ok := s.currentKeyboard(ctx, event.OwnerID, lang); ok {
			resp.Keyboard = keyboard
		}
		resp.Language = lang
		return resp
	case errors.As(err, &nf):
		return Response{Language: lang, TextKey: "error.not_found", Params: map[string]string{"resource": nf.Resource}, Alert: true}
	case errors.As(err, &pre):
		return Response{Language: lang, TextKey: pre.Key, Params: pre.Params, Alert: true}
	}
	s.logger(ctx, "conversation.event.failed", map[string]any{
		"eventID": event.EventID,
		"ownerID": event.OwnerID,
		"kind":    string(event.Kind),
		"error":   err,
	})
	return Response{Language: lang, TextKey: "error.generic", Alert: true}
}

func (s *conversationService) route(ctx context.Context, event Event, lang string) (Response, error) {
	owner := event.OwnerID
	p := event.Payload
	switch event.Kind {
	case EventStart:
		if _, err := s.checkout.SetLanguage(ctx, owner, lang); err != nil {
			return Response{}, err
		}
		return s.welcome(lang, "welcome"), nil

	case EventSetLanguage:
		if strings.TrimSpace(p.Language) == "" {
			return Response{Language: lang, TextKey: "language.choose", Keyboard: s.languageKeyboard()}, nil
		}
		chosen := s.languages.Match(p.Language)
		if _, err := s.checkout.SetLanguage(ctx, owner, chosen); err != nil {
			return Response{}, err
		}
		return s.welcome(chosen, "language.changed"), nil

	case EventShowMenu:
		return s.categoriesView(lang), nil

	case EventShowCategory:
		return s.categoryView(p.CategoryID, lang)

	case EventShowItem:
		return s.itemView(p.ProductID, lang)

	case EventShowCart:
		return s.cartView(ctx, owner, lang)

	case EventCartAdd:
		qty := p.Quantity
		if qty == 0 {
			qty = 1
		}
		cart, err := s.carts.Add(ctx, AddCartItemCommand{OwnerID: owner, ProductID: p.ProductID, Quantity: qty, Language: lang})
		if err != nil {
			return Response{}, err
		}
		line, _ := cart.Line(strings.TrimSpace(p.ProductID))
		return Response{
			Language: lang,
			TextKey:  "cart.added",
			Params: map[string]string{
				"name":     line.Name,
				"quantity": strconv.Itoa(qty),
				"total":    s.money(cart.Total()),
			},
			Alert: true,
		}, nil

	case EventCartIncrement, EventCartDecrement, EventCartRemove:
		var err error
		switch event.Kind {
		case EventCartIncrement:
			_, err = s.carts.Increment(ctx, owner, p.ProductID)
		case EventCartDecrement:
			_, err = s.carts.Decrement(ctx, owner, p.ProductID)
		default:
			_, err = s.carts.Remove(ctx, owner, p.ProductID)
		}
		if err != nil {
			return Response{}, err
		}
		return s.cartView(ctx, owner, lang)

	case EventCartClear:
		if _, err := s.carts.Clear(ctx, owner); err != nil {
			return Response{}, err
		}
		return s.welcome(lang, "cart.cleared"), nil

	case EventCheckoutStart:
		state, err := s.checkout.Begin(ctx, owner)
		if err != nil {
			return Response{}, err
		}
		return s.prompt(ctx, owner, state, lang)

	case EventText, EventDeliveryType, EventDay, EventTimeSlot, EventSkipComment:
		session, err := s.checkout.Current(ctx, owner)
		if err != nil {
			return Response{}, err
		}
		if !session.InCheckout() {
			if event.Kind == EventText {
				return s.welcome(lang, "help.unknown_text"), nil
			}
			return Response{}, errCheckoutNotStarted
		}
		state, err := s.checkout.Submit(ctx, owner, checkoutInput(event))
		if err != nil {
			return Response{}, err
		}
		return s.prompt(ctx, owner, state, lang)

	case EventBack:
		state, stay, err := s.checkout.Back(ctx, owner)
		if err != nil {
			return Response{}, err
		}
		if stay {
			return s.prompt(ctx, owner, state, lang)
		}
		return s.cartView(ctx, owner, lang)

	case EventConfirm:
		receipt, err := s.checkout.Confirm(ctx, Requester{OwnerID: owner, Username: event.Username})
		if err != nil {
			return Response{}, err
		}
		key := "order.success"
		if receipt.ManualFollowUp() {
			key = "order.success_manual"
		}
		resp := s.welcome(lang, key)
		resp.Params = map[string]string{
			"order_id":         receipt.Order.ID,
			"total":            domain.FormatAmount(receipt.Order.Total, receipt.Order.Currency),
			"phone":            receipt.Order.CustomerPhone,
			"restaurant_phone": s.catalog.Restaurant().Phone,
		}
		return resp, nil

	case EventCancel:
		cancelled, err := s.checkout.Cancel(ctx, owner)
		if err != nil {
			return Response{}, err
		}
		key := "checkout.nothing_to_cancel"
		if cancelled {
			key = "checkout.cancelled"
		}
		return s.welcome(lang, key), nil

	case EventShowContacts:
		r := s.catalog.Restaurant()
		resp := s.welcome(lang, "contacts")
		resp.Params = map[string]string{
			"name":    r.Name.Get(lang),
			"phone":   r.Phone,
			"address": r.Address,
			"hours":   r.WorkingHours.Get(lang),
		}
		return resp, nil

	case EventHelp:
		return s.welcome(lang, "help"), nil
	}
	return Response{}, fmt.Errorf("conversation: unhandled event kind %q", event.Kind)
}

func checkoutInput(event Event) CheckoutInput {
	p := event.Payload
	switch event.Kind {
	case EventDeliveryType:
		return DeliveryTypeInput(domain.DeliveryType(strings.ToLower(strings.TrimSpace(p.DeliveryType))))
	case EventDay:
		return DayInput(p.Day)
	case EventTimeSlot:
		return TimeSlotInput(p.Hour)
	case EventSkipComment:
		return SkipInput()
	}
	return TextInput(p.Text)
}

func (s *conversationService) welcome(lang, key string) Response {
	return Response{Language: lang, TextKey: key, Keyboard: s.mainMenuKeyboard(lang)}
}

func (s *conversationService) label(lang, key string) string {
	return s.localizer.Render(lang, key, nil)
}

func (s *conversationService) money(amount int64) string {
	return domain.FormatAmount(amount, s.catalog.Currency())
}

func (s *conversationService) mainMenuKeyboard(lang string) Keyboard {
	return Keyboard{Kind: KeyboardMainMenu, Options: []Option{
		{Kind: EventShowMenu, Label: s.label(lang, "button.menu")},
		{Kind: EventShowCart, Label: s.label(lang, "button.cart")},
		{Kind: EventShowContacts, Label: s.label(lang, "button.contacts")},
		{Kind: EventSetLanguage, Label: s.label(lang, "button.language")},
	}}
}

func (s *conversationService) languageKeyboard() Keyboard {
	supported := s.languages.Supported()
	options := make([]Option, 0, len(supported))
	for _, lang := range supported {
		options = append(options, Option{Kind: EventSetLanguage, Value: lang, Label: s.label(lang, "language.name")})
	}
	return Keyboard{Kind: KeyboardLanguages, Options: options}
}

func (s *conversationService) categoriesView(lang string) Response {
	categories := s.catalog.Categories()
	options := make([]Option, 0, len(categories)+1)
	for _, category := range categories {
		label := category.Name.Get(lang)
		if category.Emoji != "" {
			label = category.Emoji + " " + label
		}
		options = append(options, Option{Kind: EventShowCategory, Value: category.ID, Label: label})
	}
	options = append(options, Option{Kind: EventShowCart, Label: s.label(lang, "button.cart")})
	return Response{Language: lang, TextKey: "menu.categories", Keyboard: Keyboard{Kind: KeyboardCategories, Options: options}}
}

func (s *conversationService) categoryView(id, lang string) (Response, error) {
	category, err := s.catalog.Category(id)
	if err != nil {
		return Response{}, err
	}
	items := category.AvailableItems()
	options := make([]Option, 0, len(items)+1)
	for _, item := range items {
		label := item.Name.Get(lang) + " - " + s.money(item.Price)
		if item.Popular {
			label = "⭐ " + label
		}
		options = append(options, Option{Kind: EventShowItem, Value: item.ID, Label: label})
	}
	options = append(options, Option{Kind: EventShowMenu, Label: s.label(lang, "button.back")})
	key := "menu.category"
	if len(items) == 0 {
		key = "menu.category_empty"
	}
	return Response{
		Language: lang,
		TextKey:  key,
		Params:   map[string]string{"name": category.Name.Get(lang)},
		Keyboard: Keyboard{Kind: KeyboardItems, Options: options},
	}, nil
}

func (s *conversationService) itemView(id, lang string) (Response, error) {
	item, err := s.catalog.Product(id)
	if err != nil {
		return Response{}, err
	}
	if !item.Available {
		return Response{}, &NotFoundError{Resource: "product", ID: id}
	}
	category, err := s.catalog.CategoryForProduct(id)
	if err != nil {
		return Response{}, err
	}
	params := map[string]string{
		"name":        item.Name.Get(lang),
		"description": item.Description.Get(lang),
		"price":       s.money(item.Price),
		"weight":      strconv.Itoa(item.Weight),
		"pieces":      strconv.Itoa(item.Pieces),
	}
	return Response{
		Language: lang,
		TextKey:  "menu.item",
		Params:   params,
		Keyboard: Keyboard{Kind: KeyboardItem, Options: []Option{
			{Kind: EventCartAdd, Value: item.ID, Label: s.label(lang, "button.add")},
			{Kind: EventShowCategory, Value: category.ID, Label: s.label(lang, "button.back")},
		}},
	}, nil
}

func (s *conversationService) cartView(ctx context.Context, owner, lang string) (Response, error) {
	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		return Response{}, err
	}
	if cart.IsEmpty() {
		return s.welcome(lang, "cart.empty_view"), nil
	}

	options := make([]Option, 0, len(cart.Lines)*3+3)
	for _, line := range cart.Lines {
		options = append(options,
			Option{Kind: EventCartDecrement, Value: line.ProductID, Label: "➖ " + line.Name},
			Option{Kind: EventCartIncrement, Value: line.ProductID, Label: "➕ " + line.Name},
			Option{Kind: EventCartRemove, Value: line.ProductID, Label: "❌ " + line.Name},
		)
	}
	options = append(options,
		Option{Kind: EventCheckoutStart, Label: s.label(lang, "button.checkout")},
		Option{Kind: EventCartClear, Label: s.label(lang, "button.clear_cart")},
		Option{Kind: EventShowMenu, Label: s.label(lang, "button.menu")},
	)

	params := map[string]string{
		"items": s.itemLines(cart),
		"total": s.money(cart.Total()),
	}
	key := "cart.view"
	if minimum := s.machine.MinimumOrder(); cart.Total() < minimum {
		key = "cart.view_below_minimum"
		params["minimum"] = s.money(minimum)
		params["missing"] = s.money(minimum - cart.Total())
	}
	return Response{Language: lang, TextKey: key, Params: params, Keyboard: Keyboard{Kind: KeyboardCart, Options: options}}, nil
}

func (s *conversationService) itemLines(cart Cart) string {
	lines := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d = %s", line.Name, line.Quantity, s.money(line.Subtotal())))
	}
	return strings.Join(lines, "\n")
}

func (s *conversationService) currentKeyboard(ctx context.Context, owner, lang string) (Keyboard, bool) {
	session, err := s.checkout.Current(ctx, owner)
	if err != nil || !session.InCheckout() {
		return Keyboard{}, false
	}
	resp, err := s.prompt(ctx, owner, session.Checkout, lang)
	if err != nil {
		return Keyboard{}, false
	}
	return resp.Keyboard, true
}

func (s *conversationService) checkoutNav(lang string, extra ...Option) Keyboard {
	options := append(extra,
		Option{Kind: EventBack, Label: s.label(lang, "button.back")},
		Option{Kind: EventCancel, Label: s.label(lang, "button.cancel")},
	)
	return Keyboard{Kind: KeyboardCheckout, Options: options}
}

// prompt asks for the input state is waiting for.
func (s *conversationService) prompt(ctx context.Context, owner string, state CheckoutState, lang string) (Response, error) {
	now := s.clock()
	resp := Response{Language: lang}
	switch st := state.(type) {
	case domain.CollectName:
		resp.TextKey = "checkout.ask_name"
		resp.Keyboard = s.checkoutNav(lang)
	case domain.CollectPhone:
		resp.TextKey = "checkout.ask_phone"
		resp.Params = map[string]string{"name": st.Name}
		resp.Keyboard = s.checkoutNav(lang)
	case domain.ChooseDeliveryType:
		resp.TextKey = "checkout.ask_delivery_type"
		resp.Params = map[string]string{"fee": s.money(s.machine.DeliveryFee())}
		keyboard := s.checkoutNav(lang,
			Option{Kind: EventDeliveryType, Value: string(domain.DeliveryTypeDelivery), Label: s.localizer.Render(lang, "button.delivery", map[string]string{"fee": s.money(s.machine.DeliveryFee())})},
			Option{Kind: EventDeliveryType, Value: string(domain.DeliveryTypePickup), Label: s.label(lang, "button.pickup")},
		)
		keyboard.Kind = KeyboardDeliveryType
		resp.Keyboard = keyboard
	case domain.CollectAddress:
		resp.TextKey = "checkout.ask_address"
		resp.Keyboard = s.checkoutNav(lang)
	case domain.ChooseDay:
		var options []Option
		for day := range s.machine.Scheduler().AvailableDays(now, s.machine.HorizonDays()) {
			options = append(options, Option{Kind: EventDay, Value: day.Key(), Label: RenderDayLabel(s.localizer, lang, day.Label)})
		}
		resp.TextKey = "checkout.ask_day"
		if len(options) == 0 {
			resp.TextKey = "checkout.no_days"
		}
		keyboard := s.checkoutNav(lang, options...)
		keyboard.Kind = KeyboardDays
		resp.Keyboard = keyboard
	case domain.ChooseTimeSlot:
		slots := s.machine.Scheduler().Slots(st.Day, now)
		options := make([]Option, 0, len(slots))
		for _, slot := range slots {
			options = append(options, Option{Kind: EventTimeSlot, Value: strconv.Itoa(slot.Hour), Label: slot.Label(), Disabled: !slot.Available})
		}
		resp.TextKey = "checkout.ask_time_slot"
		resp.Params = map[string]string{"day": RenderDayLabel(s.localizer, lang, s.machine.Scheduler().Label(st.Day, now))}
		keyboard := s.checkoutNav(lang, options...)
		keyboard.Kind = KeyboardTimeSlots
		resp.Keyboard = keyboard
	case domain.CollectComment:
		resp.TextKey = "checkout.ask_comment"
		keyboard := s.checkoutNav(lang, Option{Kind: EventSkipComment, Label: s.label(lang, "button.skip")})
		keyboard.Kind = KeyboardComment
		resp.Keyboard = keyboard
	case domain.Confirmation:
		return s.summary(ctx, owner, st.Draft, lang, now)
	default:
		return Response{}, fmt.Errorf("conversation: no prompt for %T", state)
	}
	return resp, nil
}

func (s *conversationService) summary(ctx context.Context, owner string, draft CheckoutDraft, lang string, now time.Time) (Response, error) {
	cart, err := s.carts.Get(ctx, owner)
	if err != nil {
		return Response{}, err
	}
	fee := draft.Fulfilment.Fee()
	delivery := s.label(lang, "summary.pickup")
	if !draft.Fulfilment.IsPickup() {
		delivery = s.localizer.Render(lang, "summary.delivery", map[string]string{"address": draft.Fulfilment.Address()})
	}
	comment := draft.Comment
	if comment == domain.CommentNone {
		comment = s.label(lang, "summary.no_comment")
	}
	params := map[string]string{
		"items":    s.itemLines(cart),
		"subtotal": s.money(cart.Total()),
		"fee":      s.money(fee),
		"total":    s.money(cart.Total() + fee),
		"name":     draft.Contact.Name,
		"phone":    draft.Contact.Phone,
		"delivery": delivery,
		"time":     RenderDeliveryTime(s.localizer, lang, s.machine.Scheduler().Label(draft.Schedule.Day, now), TimeSlot{Hour: draft.Schedule.Hour}),
		"comment":  comment,
	}
	key := "checkout.summary"
	if fee > 0 {
		key = "checkout.summary_with_fee"
	}
	return Response{
		Language: lang,
		TextKey:  key,
		Params:   params,
		Keyboard: Keyboard{Kind: KeyboardConfirmation, Options: []Option{
			{Kind: EventConfirm, Label: s.label(lang, "button.confirm")},
			{Kind: EventBack, Label: s.label(lang, "button.back")},
			{Kind: EventCancel, Label: s.label(lang, "button.cancel")},
		}},
	}, nil
}
