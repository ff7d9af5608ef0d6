package pocketoption

import (
	"testing"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func TestPingPongRules(t *testing.T) {
	if !PingRule().Match(domain.NewTextFrame(ControlPing)) {
		t.Error("PingRule must match the ping token")
	}
	if PingRule().Match(domain.NewTextFrame(ControlPong)) {
		t.Error("PingRule must not match the pong token")
	}
	if !PongRule().Match(domain.NewTextFrame(ControlPong)) {
		t.Error("PongRule must match the pong token")
	}
}

func TestServerTimeRule(t *testing.T) {
	r := ServerTimeRule()
	if !r.Match(domain.NewTextFrame("1700000000")) {
		t.Error("expected a bare epoch-seconds frame to match")
	}
	if !r.Match(domain.NewTextFrame("1700000000123")) {
		t.Error("expected a bare epoch-millis frame to match")
	}
	if r.Match(domain.NewTextFrame(`42["successupdateBalance",{}]`)) {
		t.Error("expected a framed event not to match")
	}
}

func TestEventRule(t *testing.T) {
	r := EventRule("successupdateBalance")
	match := domain.NewTextFrame(`42["successupdateBalance",{"balance":100}]`)
	miss := domain.NewTextFrame(`42["updateAssets",{}]`)
	if !r.Match(match) {
		t.Error("expected matching event name to match")
	}
	if r.Match(miss) {
		t.Error("expected different event name not to match")
	}
}

func TestClosedDealsPairingRule(t *testing.T) {
	p := ClosedDealsPairingRule()
	header := domain.NewTextFrame(`451-["updateClosedDeals",{"_placeholder":true}]`)
	body := domain.NewBinaryFrame([]byte{0x01})

	if !p.Match(header) {
		t.Fatal("expected header frame to match and arm the latch")
	}
	if !p.Match(body) {
		t.Fatal("expected following binary frame to match")
	}
	if p.Armed() {
		t.Error("latch must be disarmed after the pair completes")
	}
}
