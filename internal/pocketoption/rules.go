package pocketoption

import (
	"regexp"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/rule"
)

// serverTimeRe matches a bare-digits frame, the server clock's unadorned
// keepalive-adjacent push of the current epoch in seconds (10 digits) or
// milliseconds (13 digits).
var serverTimeRe = regexp.MustCompile(`^\d{10,13}$`)

// PingRule matches the server's keepalive ping control token.
func PingRule() rule.Rule {
	return rule.ControlToken(ControlPing)
}

// PongRule matches the engine's own keepalive pong control token, used by
// middleware/tests that need to recognize an outbound pong rather than
// dispatch one.
func PongRule() rule.Rule {
	return rule.ControlToken(ControlPong)
}

// ServerTimeRule matches a bare server-clock push frame.
func ServerTimeRule() rule.Rule {
	return rule.Regex(serverTimeRe)
}

// EventRule matches a framed text event by name, e.g. EventRule("successupdateBalance").
func EventRule(name string) rule.Rule {
	return rule.Predicate(func(f domain.Frame) bool {
		ev, ok := ParseEvent(f.String())
		return ok && ev.Name == name
	})
}

// ClosedDealsPairingRule matches the text-header/binary-body pair the
// server sends for a closed-deals batch update.
func ClosedDealsPairingRule() *rule.PairingRule {
	return rule.NewPairingRule(`451-["updateClosedDeals"`)
}
