package conversation

import "strings"

type EventKind int

const (
	EventText EventKind = iota
	EventSelection
	EventCommand
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventSelection:
		return "selection"
	case EventCommand:
		return "command"
	default:
		return "unknown"
	}
}

const (
	CommandOrder  = "order"
	CommandCancel = "cancel"
)

// Event is one inbound user action, already serialized per user by the
// dispatcher.
type Event struct {
	UserID int64
	Handle string
	Kind   EventKind
	Text   string
}

func TextInput(userID int64, handle, text string) Event {
	return Event{UserID: userID, Handle: handle, Kind: EventText, Text: text}
}

func SelectionInput(userID int64, handle, token string) Event {
	return Event{UserID: userID, Handle: handle, Kind: EventSelection, Text: token}
}

func Command(userID int64, handle, name string) Event {
	return Event{UserID: userID, Handle: handle, Kind: EventCommand, Text: name}
}

type Choice struct {
	Label string
	Token string
}

type Outbound struct {
	UserID  int64
	Text    string
	Choices []Choice
}

// Selection tokens carried by buttons.
const (
	itemTokenPrefix = "item:"

	TokenMoreYes     = "more:yes"
	TokenMoreNo      = "more:no"
	TokenConfirmYes  = "confirm:yes"
	TokenConfirmNo   = "confirm:no"
	TokenSelfCollect = "delivery:self"
	TokenDeliver     = "delivery:deliver"
)

func ItemToken(productName string) string {
	return itemTokenPrefix + productName
}

// ParseItemToken returns the product named by an item token.
func ParseItemToken(token string) (string, bool) {
	if !strings.HasPrefix(token, itemTokenPrefix) {
		return "", false
	}
	return strings.TrimPrefix(token, itemTokenPrefix), true
}
