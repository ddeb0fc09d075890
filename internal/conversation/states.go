package conversation

import "fmt"

// State is the step a user's conversation is waiting on. The zero value is
// StateTerminated: no order in progress.
type State int

const (
	StateTerminated State = iota
	StateAskName
	StateAskPhone
	StateAskItem
	StateAskQty
	StateAskMore
	StateConfirm
	StateAskDeliveryMethod
	StateAskDeliveryAddress
	StateFinalize
)

var stateNames = map[State]string{
	StateTerminated:         "terminated",
	StateAskName:            "ask_name",
	StateAskPhone:           "ask_phone",
	StateAskItem:            "ask_item",
	StateAskQty:             "ask_qty",
	StateAskMore:            "ask_more",
	StateConfirm:            "confirm",
	StateAskDeliveryMethod:  "ask_delivery_method",
	StateAskDeliveryAddress: "ask_delivery_address",
	StateFinalize:           "finalize",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether a draft is in progress.
func (s State) Active() bool {
	return s != StateTerminated
}

func (s State) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
	return []byte(name), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
