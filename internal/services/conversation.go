package services

// EventKind enumerates the structured events the chat transport delivers.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventSetLanguage   EventKind = "set_language"
	EventShowMenu      EventKind = "show_menu"
	EventShowCategory  EventKind = "show_category"
	EventShowItem      EventKind = "show_item"
	EventShowCart      EventKind = "show_cart"
	EventCartAdd       EventKind = "cart_add"
	EventCartIncrement EventKind = "cart_increment"
	EventCartDecrement EventKind = "cart_decrement"
	EventCartRemove    EventKind = "cart_remove"
	EventCartClear     EventKind = "cart_clear"
	EventCheckoutStart EventKind = "checkout_start"
	EventText          EventKind = "text"
	EventDeliveryType  EventKind = "delivery_type"
	EventDay           EventKind = "day"
	EventTimeSlot      EventKind = "time_slot"
	EventSkipComment   EventKind = "skip_comment"
	EventBack          EventKind = "back"
	EventConfirm       EventKind = "confirm"
	EventCancel        EventKind = "cancel"
	EventShowContacts  EventKind = "show_contacts"
	EventHelp          EventKind = "help"
)

var eventKinds = map[EventKind]struct{}{
	EventStart: {}, EventSetLanguage: {}, EventShowMenu: {}, EventShowCategory: {}, EventShowItem: {},
	EventShowCart: {}, EventCartAdd: {}, EventCartIncrement: {}, EventCartDecrement: {}, EventCartRemove: {},
	EventCartClear: {}, EventCheckoutStart: {}, EventText: {}, EventDeliveryType: {}, EventDay: {},
	EventTimeSlot: {}, EventSkipComment: {}, EventBack: {}, EventConfirm: {}, EventCancel: {},
	EventShowContacts: {}, EventHelp: {},
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	_, ok := eventKinds[k]
	return ok
}

// Event is one already-parsed transport event.
type Event struct {
	EventID      string
	OwnerID      string
	Username     string
	LanguageHint string
	Kind         EventKind
	Payload      EventPayload
}

// EventPayload carries the arguments of an event. Only fields relevant to the kind are read.
type EventPayload struct {
	Language     string
	CategoryID   string
	ProductID    string
	Quantity     int
	Text         string
	DeliveryType string
	Day          string
	Hour         int
}

// KeyboardKind names the layout the transport should draw.
type KeyboardKind string

const (
	KeyboardNone         KeyboardKind = ""
	KeyboardLanguages    KeyboardKind = "languages"
	KeyboardMainMenu     KeyboardKind = "main_menu"
	KeyboardCategories   KeyboardKind = "categories"
	KeyboardItems        KeyboardKind = "items"
	KeyboardItem         KeyboardKind = "item"
	KeyboardCart         KeyboardKind = "cart"
	KeyboardCheckout     KeyboardKind = "checkout"
	KeyboardDeliveryType KeyboardKind = "delivery_type"
	KeyboardDays         KeyboardKind = "days"
	KeyboardTimeSlots    KeyboardKind = "time_slots"
	KeyboardComment      KeyboardKind = "comment"
	KeyboardConfirmation KeyboardKind = "confirmation"
)

// Option is one button. Pressing it sends an event of Kind with Value as its argument.
type Option struct {
	Kind     EventKind `json:"kind"`
	Value    string    `json:"value,omitempty"`
	Label    string    `json:"label"`
	Disabled bool      `json:"disabled,omitempty"`
}

// Keyboard is the next keyboard request.
type Keyboard struct {
	Kind    KeyboardKind `json:"kind,omitempty"`
	Options []Option     `json:"options,omitempty"`
}

// Response describes what the transport shows next. Text is composed by the localization collaborator from TextKey and Params.
type Response struct {
	Language string
	TextKey  string
	Params   map[string]string
	Keyboard Keyboard
	// Alert asks the transport for a transient notice instead of a new message.
	Alert bool
}
