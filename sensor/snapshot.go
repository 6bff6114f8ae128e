package sensor

import "context"

// State is the tri-state sensor value. StateUnknown holds until the first
// successful value evaluation.
type State int

const (
	StateUnknown State = iota
	StateOff
	StateOn
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateOn:
		return "on"
	default:
		return "unknown"
	}
}

// stateFor maps a rendered boolean to its State
func stateFor(value bool) State {
	if value {
		return StateOn
	}
	return StateOff
}

// Snapshot is one committed sensor state, published as a single atomic
// update. Intermediate candidates never appear in a Snapshot.
type Snapshot struct {
	Name         string            `json:"name"`
	Value        State             `json:"-"`
	ValueLabel   string            `json:"value"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Icon         string            `json:"icon,omitempty"`
	Picture      string            `json:"picture,omitempty"`
	Available    bool              `json:"available"`
	FriendlyName string            `json:"friendly_name,omitempty"`
	DeviceClass  string            `json:"device_class,omitempty"`
}

// Publisher receives committed snapshots
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}
