package anvil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a unit of work dispatched to subscribed agents. Names follow the
// "<mode>/<kind>" convention, e.g. "act/user_task_init". Value is arbitrary
// structured data; most events carry a plain string.
type Event struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Well-known event names. Workflows may define arbitrary additional names.
const (
	EventUserTaskInit   = "user_task_init"
	EventUserTaskUpdate = "user_task_update"
)

// NewEvent creates an event with a fresh id and the current timestamp.
func NewEvent(name string, value any) Event {
	return Event{
		ID:        NewID(),
		Name:      name,
		Value:     value,
		Timestamp: NowUnix(),
	}
}

// ValueString renders the event value as a string. Strings pass through;
// anything else is JSON-encoded.
func (e Event) ValueString() string {
	switch v := e.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Mode returns the "<mode>" prefix of the event name, or "" if the name has
// no "/" separator.
func (e Event) Mode() string {
	if mode, _, ok := strings.Cut(e.Name, "/"); ok {
		return mode
	}
	return ""
}
