package rule

import (
	"regexp"
	"testing"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

func TestStartsWith(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		frame  domain.Frame
		want   bool
	}{
		{"matches", "451-", domain.NewTextFrame(`451-["updateClosedDeals"]`), true},
		{"no match", "451-", domain.NewTextFrame(`42["ping"]`), false},
		{"binary frame never matches", "451-", domain.NewBinaryFrame([]byte("451-")), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := StartsWith(c.prefix)
			if got := r.Match(c.frame); got != c.want {
				t.Errorf("Match() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	r := Contains("updateBalance")
	if !r.Match(domain.NewTextFrame(`42["successupdateBalance",{}]`)) {
		t.Error("expected match")
	}
	if r.Match(domain.NewTextFrame(`42["updateAssets",{}]`)) {
		t.Error("expected no match")
	}
}

func TestRegex(t *testing.T) {
	re := regexp.MustCompile(`^\d+\["update`)
	r := Regex(re)
	if !r.Match(domain.NewTextFrame(`42["updateAssets",{}]`)) {
		t.Error("expected match")
	}
	if r.Match(domain.NewTextFrame(`notnumeric["updateAssets"]`)) {
		t.Error("expected no match")
	}
}

func TestControlToken(t *testing.T) {
	r := ControlToken("2")
	if !r.Match(domain.NewTextFrame("2")) {
		t.Error("expected match on ping token")
	}
	if r.Match(domain.NewTextFrame("3")) {
		t.Error("expected no match on pong token")
	}
}

func TestPredicatePanicIsFalse(t *testing.T) {
	r := Predicate(func(f domain.Frame) bool {
		panic("boom")
	})
	if r.Match(domain.NewTextFrame("anything")) {
		t.Error("panicking predicate must be treated as false")
	}
}

func TestAllAnyNot(t *testing.T) {
	isText := Predicate(func(f domain.Frame) bool { return f.Kind == domain.FrameText })
	hasPing := Contains("ping")

	all := All(isText, hasPing)
	any := Any(StartsWith("zzz"), hasPing)
	not := Not(hasPing)

	frame := domain.NewTextFrame("42[\"ping\"]")

	if !all.Match(frame) {
		t.Error("All: expected match")
	}
	if !any.Match(frame) {
		t.Error("Any: expected match")
	}
	if not.Match(frame) {
		t.Error("Not: expected no match")
	}
}

func TestPairingRuleLatch(t *testing.T) {
	p := NewPairingRule(`451-["updateClosedDeals"`)

	header := domain.NewTextFrame(`451-["updateClosedDeals",{"_placeholder":true}]`)
	body := domain.NewBinaryFrame([]byte{0x01, 0x02, 0x03})
	unrelated := domain.NewTextFrame(`42["ping"]`)

	if p.Match(unrelated) {
		t.Error("unrelated text frame must not match")
	}
	if p.Armed() {
		t.Error("latch must not be armed yet")
	}

	if !p.Match(header) {
		t.Error("header frame must match and arm the latch")
	}
	if !p.Armed() {
		t.Error("latch must be armed after header")
	}

	if !p.Match(body) {
		t.Error("binary frame after armed header must match")
	}
	if p.Armed() {
		t.Error("latch must be cleared after consuming the binary body")
	}

	// A second binary frame with no preceding header must not match.
	if p.Match(body) {
		t.Error("binary frame without an armed latch must not match")
	}
}

func TestPairingRuleResetOnDisconnect(t *testing.T) {
	p := NewPairingRule(`451-["updateClosedDeals"`)
	p.Match(domain.NewTextFrame(`451-["updateClosedDeals",{}]`))
	if !p.Armed() {
		t.Fatal("latch should be armed")
	}
	p.Reset()
	if p.Armed() {
		t.Error("Reset must clear the latch")
	}
	// After reset a stray binary frame must not match.
	if p.Match(domain.NewBinaryFrame([]byte{0xff})) {
		t.Error("binary frame after reset must not match")
	}
}

func TestCompositeReset(t *testing.T) {
	p1 := NewPairingRule("a")
	p2 := NewPairingRule("b")
	composite := All(p1, p2)

	p1.Match(domain.NewTextFrame("a-header"))
	p2.Match(domain.NewTextFrame("b-header"))

	composite.Reset()

	if p1.Armed() || p2.Armed() {
		t.Error("composite Reset must cascade to sub-rules")
	}
}
