package lcu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Websocket opcodes used by the control API.
const (
	opcodeSubscribe = 5
	opcodeEvent     = 8

	jsonAPIEvent = "OnJsonApiEvent"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	errNotEvent       = errors.New("not an event frame")
)

func subscribeFrame() []any {
	return []any{opcodeSubscribe, jsonAPIEvent}
}

// decodeFrame parses [opcode, name, {uri, eventType, data}].
func decodeFrame(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("%w: invalid json", errMalformedFrame)
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsArray() {
		return Event{}, fmt.Errorf("%w: not an array", errMalformedFrame)
	}
	parts := frame.Array()
	if len(parts) == 0 || parts[0].Type != gjson.Number {
		return Event{}, fmt.Errorf("%w: missing opcode", errMalformedFrame)
	}
	if parts[0].Int() != opcodeEvent {
		return Event{}, fmt.Errorf("%w: opcode %d", errNotEvent, parts[0].Int())
	}
	if len(parts) < 3 || !parts[2].IsObject() {
		return Event{}, fmt.Errorf("%w: missing payload", errMalformedFrame)
	}

	payload := parts[2]
	uri := payload.Get("uri")
	if uri.Type != gjson.String {
		return Event{}, fmt.Errorf("%w: missing uri", errMalformedFrame)
	}
	eventType := payload.Get("eventType")
	if eventType.Type != gjson.String {
		return Event{}, fmt.Errorf("%w: missing eventType", errMalformedFrame)
	}

	raw := json.RawMessage("null")
	if d := payload.Get("data"); d.Exists() {
		raw = json.RawMessage(d.Raw)
	}
	return Event{
		URI:  uri.String(),
		Type: EventType(strings.ToUpper(eventType.String())),
		Data: raw,
	}, nil
}
