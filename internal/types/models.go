// internal/types/models.go
package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Event is one unit of retail activity as published by the collector. Only
// the fields the dashboard derives views from are typed; the original JSON is
// retained so forwarding an event downstream does not drop fields.
type Event struct {
	EventID   string    `json:"event_id"`
	StoreID   string    `json:"store_id"`
	Ts        Timestamp `json:"ts"`
	EventType string    `json:"event_type"`
	Payload   Payload   `json:"payload"`

	raw json.RawMessage
}

type eventFields Event

// UnmarshalJSON reads the typed fields leniently. A field of an unexpected
// type is left zero; it still travels downstream in the raw JSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	ev := Event{
		EventID:   looseString(fields["event_id"]),
		StoreID:   looseString(fields["store_id"]),
		Ts:        looseTimestamp(fields["ts"]),
		EventType: looseString(fields["event_type"]),
	}
	if p, ok := fields["payload"]; ok {
		if err := json.Unmarshal(p, &ev.Payload); err != nil {
			return err
		}
	}
	ev.raw = append(json.RawMessage(nil), data...)
	*e = ev
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(eventFields(e))
}

type Payload struct {
	Amount           float64 `json:"amount,omitempty"`
	Items            Items   `json:"items,omitempty"`
	CustomerCategory string  `json:"customer_category,omitempty"`
	PaymentMethod    string  `json:"payment_method,omitempty"`
	Season           string  `json:"season,omitempty"`
	Promotion        string  `json:"promotion,omitempty"`
}

// UnmarshalJSON never fails: a payload that is not an object carries nothing
// the dashboard reads.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		*p = Payload{}
		return nil
	}
	var items Items
	if raw, ok := fields["items"]; ok {
		items.UnmarshalJSON(raw)
	}
	*p = Payload{
		Amount:           looseNumber(fields["amount"]),
		Items:            items,
		CustomerCategory: looseString(fields["customer_category"]),
		PaymentMethod:    looseString(fields["payment_method"]),
		Season:           looseString(fields["season"]),
		Promotion:        looseString(fields["promotion"]),
	}
	return nil
}

// Items holds the products of an event. The collector sends either a single
// value or a list; entries that are not scalars are skipped.
type Items []string

func (it *Items) UnmarshalJSON(data []byte) error {
	var many []json.RawMessage
	if err := json.Unmarshal(data, &many); err != nil {
		if single := looseString(data); single != "" {
			*it = Items{single}
		} else {
			*it = nil
		}
		return nil
	}
	if many == nil {
		*it = nil
		return nil
	}
	out := make(Items, 0, len(many))
	for _, raw := range many {
		if s := looseString(raw); s != "" {
			out = append(out, s)
		}
	}
	*it = out
	return nil
}

// looseString returns a JSON string as is and a number or bool as its
// literal text. Anything else reads as "".
func looseString(raw json.RawMessage) string {
	raw = json.RawMessage(bytes.TrimSpace(raw))
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '{', '[', 'n':
	default:
		return string(raw)
	}
	return ""
}

// looseNumber accepts a JSON number or a numeric string.
func looseNumber(raw json.RawMessage) float64 {
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(looseString(raw)), 64); err == nil {
		return f
	}
	return 0
}

// looseTimestamp accepts any layout ParseTimestamp knows, or Unix seconds.
// An unreadable value is the zero time.
func looseTimestamp(raw json.RawMessage) Timestamp {
	s := looseString(raw)
	if ts, err := ParseTimestamp(s); err == nil {
		return ts
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * float64(time.Second))
		return Timestamp{Time: time.Unix(whole, nanos).UTC()}
	}
	return Timestamp{}
}

// EventBatch is a loaded event list plus its provenance. FromPrimarySource is
// false when the events were synthesized locally.
type EventBatch struct {
	Events            []Event `json:"events"`
	FromPrimarySource bool    `json:"from_primary_source"`
}

type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
)

type AgentHealth struct {
	Name        AgentName   `json:"name"`
	Status      AgentStatus `json:"status"`
	LastChecked time.Time   `json:"last_checked"`
}

// Snapshot maps each registered agent to its most recent health check.
type Snapshot map[AgentName]AgentHealth

// Online returns how many agents in the snapshot are online.
func (s Snapshot) Online() int {
	n := 0
	for _, h := range s {
		if h.Status == StatusOnline {
			n++
		}
	}
	return n
}
