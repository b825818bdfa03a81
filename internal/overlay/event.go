package overlay

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Touch is one contact point reported by a touch event.
type Touch struct {
	Identifier int     `json:"identifier"`
	ClientX    float64 `json:"clientX"`
	ClientY    float64 `json:"clientY"`
}

// Event is a DOM event forwarded from the page.
type Event struct {
	Type    string  `json:"type"`
	Target  string  `json:"target"` // Accessor of the element the listener was added to
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
	PageX   float64 `json:"pageX"`
	PageY   float64 `json:"pageY"`
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
	Touches []Touch `json:"touches"`
}

// DecodeEvent parses an event payload sent by Minko.dispatchEvent. accessor
// fills in Target when the payload has none.
func DecodeEvent(accessor, payload string) (Event, error) {
	var evt Event
	if err := sonic.UnmarshalString(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event for %s: %w", accessor, err)
	}
	if evt.Target == "" {
		evt.Target = accessor
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("decode event for %s: missing type", accessor)
	}
	return evt, nil
}

type rawEvent struct {
	accessor string
	payload  string
}
