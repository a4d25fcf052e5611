package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the kind of webhook event delivered by the messaging provider.
type EventType string

const (
	EventMessage EventType = "message"
	EventFollow  EventType = "follow"
)

// MessageType is the kind of message carried by a message event.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// InboundEvent is the first event of a webhook body, flattened for dispatch.
// A reply is only attempted when ReplyToken is non-empty.
type InboundEvent struct {
	Type        EventType
	MessageType MessageType // empty for non-message events
	ReplyToken  string
	Text        string // set for text messages
	MediaID     string // provider message id, set for image messages
}

// Kind returns a short label used in logs and metrics ("text", "image", "follow", ...).
func (e InboundEvent) Kind() string {
	if e.Type == EventMessage && e.MessageType != "" {
		return string(e.MessageType)
	}
	if e.Type == "" {
		return "unknown"
	}
	return string(e.Type)
}

// ParseFirstEvent extracts the first event of a webhook body. Only a body
// that is not valid JSON is an error, wrapping ErrValidation. Well-formed
// JSON whose fields have unexpected types, or an empty event list, yields
// ok == false.
func ParseFirstEvent(body []byte) (ev InboundEvent, ok bool, err error) {
	var wire struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return InboundEvent{}, false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return InboundEvent{}, false, nil
	}

	var events []json.RawMessage
	if len(wire.Events) == 0 || json.Unmarshal(wire.Events, &events) != nil || len(events) == 0 {
		return InboundEvent{}, false, nil
	}
	fields, isObject := objectFields(events[0])
	if !isObject {
		return InboundEvent{}, false, nil
	}

	ev = InboundEvent{
		Type:       EventType(stringField(fields, "type")),
		ReplyToken: stringField(fields, "replyToken"),
	}
	if msg, isObject := objectFields(fields["message"]); isObject {
		ev.MessageType = MessageType(stringField(msg, "type"))
		ev.Text = stringField(msg, "text")
		ev.MediaID = stringField(msg, "id")
	}
	return ev, true, nil
}

func objectFields(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil || m == nil {
		return nil, false
	}
	return m, true
}

// stringField returns m[key] when it is a JSON string, "" otherwise.
func stringField(m map[string]json.RawMessage, key string) string {
	var s string
	if raw, found := m[key]; found && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}
