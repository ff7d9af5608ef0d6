// Package pocketoption adapts the generic engine (connector, router,
// runner, module runtime) to PocketOption's WebSocket wire protocol: frame
// encoding, the control-token/event-name rule wiring, credential parsing,
// and the concrete modules listed in the component table.
package pocketoption

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Control tokens are single-byte text frames used for keep-alive.
const (
	ControlPing = "2" // server -> engine
	ControlPong = "3" // engine -> server
)

// Framed-event opcodes of interest.
const (
	OpcodeAuth         = 42
	OpcodeEvent        = 42
	OpcodeClosedDeals  = 451
	OpcodeChangeSymbol = 42
)

// EncodeEvent builds an outbound framed event frame:
// <opcode>["<name>",<payload>].
func EncodeEvent(opcode int, name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pocketoption: marshaling %s payload: %w", name, err)
	}
	nameJSON, err := json.Marshal(name)
	if err != nil {
		return nil, fmt.Errorf("pocketoption: marshaling event name: %w", err)
	}
	return []byte(fmt.Sprintf("%d[%s,%s]", opcode, nameJSON, data)), nil
}

// ParsedEvent is a decoded framed text event.
type ParsedEvent struct {
	Opcode  string // preserved as a string since some carry a "-" suffix (451-)
	Name    string
	Payload json.RawMessage
}

// ParseEvent decodes a text payload of the form <opcode>["name",payload].
// ok is false for anything that isn't a bracketed array with a string first
// element — control tokens and malformed frames included.
func ParseEvent(payload string) (ParsedEvent, bool) {
	idx := strings.IndexByte(payload, '[')
	if idx < 0 {
		return ParsedEvent{}, false
	}
	opcode := payload[:idx]
	body := payload[idx:]

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil || len(raw) < 1 {
		return ParsedEvent{}, false
	}

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return ParsedEvent{}, false
	}

	var payloadRaw json.RawMessage
	if len(raw) > 1 {
		payloadRaw = raw[1]
	}
	return ParsedEvent{Opcode: opcode, Name: name, Payload: payloadRaw}, true
}

// authPayload is the body of the outbound auth event.
type authPayload struct {
	Session       string `json:"session"`
	IsDemo        int    `json:"isDemo"`
	UID           int64  `json:"uid"`
	Platform      int    `json:"platform"`
	IsFastHistory bool   `json:"isFastHistory"`
}

// platformWeb is the platform id PocketOption's web client reports.
const platformWeb = 1

// BuildAuthFrame builds the credential-derived authentication frame sent
// immediately after the WebSocket upgrade completes.
func BuildAuthFrame(uid int64, demo bool, sessionBlob string) ([]byte, error) {
	isDemo := 0
	if demo {
		isDemo = 1
	}
	return EncodeEvent(OpcodeAuth, "auth", authPayload{
		Session:       sessionBlob,
		IsDemo:        isDemo,
		UID:           uid,
		Platform:      platformWeb,
		IsFastHistory: true,
	})
}

// openOrderPayload is the body of the outbound openOrder event.
type openOrderPayload struct {
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
	Action    string  `json:"action"`
	Time      int64   `json:"time"`
	RequestID string  `json:"requestId"`
}

// BuildOpenOrderFrame builds the outbound openOrder frame for a trade
// command.
func BuildOpenOrderFrame(asset string, amount float64, direction string, durationS int64, requestID string) ([]byte, error) {
	return EncodeEvent(OpcodeEvent, "openOrder", openOrderPayload{
		Asset:     asset,
		Amount:    amount,
		Action:    direction,
		Time:      durationS,
		RequestID: requestID,
	})
}

// changeSymbolPayload is the body of the outbound changeSymbol event used
// both to subscribe and to re-subscribe on reconnect.
type changeSymbolPayload struct {
	Asset  string `json:"asset"`
	Period int64  `json:"period"`
}

// BuildChangeSymbolFrame builds the outbound changeSymbol frame that opens
// (or restores) a tick/candle stream for an asset.
func BuildChangeSymbolFrame(asset string, periodS int64) ([]byte, error) {
	return EncodeEvent(OpcodeChangeSymbol, "changeSymbol", changeSymbolPayload{Asset: asset, Period: periodS})
}
