package pocketoption

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeEventRoundTrip(t *testing.T) {
	frame, err := EncodeEvent(42, "changeSymbol", changeSymbolPayload{Asset: "EURUSD_otc", Period: 60})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	if !strings.HasPrefix(string(frame), `42["changeSymbol",`) {
		t.Fatalf("unexpected frame: %s", frame)
	}

	ev, ok := ParseEvent(string(frame))
	if !ok {
		t.Fatal("expected ParseEvent to succeed")
	}
	if ev.Name != "changeSymbol" {
		t.Errorf("got name %q, want changeSymbol", ev.Name)
	}
	var payload changeSymbolPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Asset != "EURUSD_otc" || payload.Period != 60 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestParseEventRejectsControlTokens(t *testing.T) {
	for _, tok := range []string{ControlPing, ControlPong} {
		if _, ok := ParseEvent(tok); ok {
			t.Errorf("control token %q must not parse as an event", tok)
		}
	}
}

func TestParseEventRejectsMalformed(t *testing.T) {
	cases := []string{"", "42", "42[]", "42[123]", "notjson["}
	for _, c := range cases {
		if _, ok := ParseEvent(c); ok {
			t.Errorf("expected ParseEvent(%q) to fail", c)
		}
	}
}

func TestParseEventKeepsOpcodeSuffix(t *testing.T) {
	ev, ok := ParseEvent(`451-["updateClosedDeals",{"_placeholder":true}]`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if ev.Opcode != "451-" {
		t.Errorf("got opcode %q, want 451-", ev.Opcode)
	}
	if ev.Name != "updateClosedDeals" {
		t.Errorf("got name %q, want updateClosedDeals", ev.Name)
	}
}

func TestBuildAuthFrame(t *testing.T) {
	frame, err := BuildAuthFrame(12345, true, "session-blob")
	if err != nil {
		t.Fatalf("BuildAuthFrame: %v", err)
	}
	ev, ok := ParseEvent(string(frame))
	if !ok || ev.Name != "auth" {
		t.Fatalf("expected an auth event, got %s", frame)
	}
	var p authPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.UID != 12345 || p.IsDemo != 1 || p.Session != "session-blob" {
		t.Errorf("unexpected auth payload: %+v", p)
	}
}

func TestBuildOpenOrderFrame(t *testing.T) {
	frame, err := BuildOpenOrderFrame("EURUSD_otc", 10, "call", 60, "req-1")
	if err != nil {
		t.Fatalf("BuildOpenOrderFrame: %v", err)
	}
	ev, ok := ParseEvent(string(frame))
	if !ok || ev.Name != "openOrder" {
		t.Fatalf("expected an openOrder event, got %s", frame)
	}
	var p openOrderPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Asset != "EURUSD_otc" || p.Amount != 10 || p.Action != "call" || p.RequestID != "req-1" {
		t.Errorf("unexpected open order payload: %+v", p)
	}
}
