// Package rule implements the router's predicate abstraction: cheap,
// mostly side-effect-free tests over a frame, plus the one stateful shape
// (the pairing rule) that needs a one-bit latch and a reset hook.
package rule

import (
	"regexp"
	"strings"
	"sync"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// Rule is evaluated once per inbound frame by the router. Match must be
// side-effect-free and total except for the stateful pairing rule, whose
// latch mutation is itself part of the contract. Reset restores any
// internal latch to its zero state; stateless rules no-op.
type Rule interface {
	Match(f domain.Frame) bool
	Reset()
}

// funcRule adapts a stateless predicate to Rule.
type funcRule struct {
	match func(f domain.Frame) bool
}

func (r funcRule) Match(f domain.Frame) bool { return r.match(f) }
func (r funcRule) Reset()                    {}

// StartsWith matches text frames whose payload has the given prefix.
func StartsWith(prefix string) Rule {
	return funcRule{match: func(f domain.Frame) bool {
		return f.Kind == domain.FrameText && strings.HasPrefix(f.String(), prefix)
	}}
}

// Contains matches text frames whose payload contains substr.
func Contains(substr string) Rule {
	return funcRule{match: func(f domain.Frame) bool {
		return f.Kind == domain.FrameText && strings.Contains(f.String(), substr)
	}}
}

// Regex matches text frames whose payload satisfies the compiled pattern.
func Regex(re *regexp.Regexp) Rule {
	return funcRule{match: func(f domain.Frame) bool {
		return f.Kind == domain.FrameText && re.MatchString(f.String())
	}}
}

// BinaryAny matches every binary frame, used for rules that only care about
// frame class (e.g. the second half of a pairing rule wired manually).
func BinaryAny() Rule {
	return funcRule{match: func(f domain.Frame) bool { return f.Kind == domain.FrameBinary }}
}

// ControlToken matches a text frame that is exactly the given single-byte
// (stringified) control token, e.g. KeepAlive's "2"/"3" ping/pong tokens.
func ControlToken(token string) Rule {
	return funcRule{match: func(f domain.Frame) bool {
		return f.Kind == domain.FrameText && f.String() == token
	}}
}

// Predicate wraps a caller-supplied function as an escape-hatch rule. Per
// the raw handler contract, a panicking predicate is treated as a false
// match rather than propagating.
func Predicate(fn func(f domain.Frame) bool) Rule {
	return funcRule{match: func(f domain.Frame) (matched bool) {
		defer func() {
			if recover() != nil {
				matched = false
			}
		}()
		return fn(f)
	}}
}

// All matches when every sub-rule matches (logical AND). Reset cascades.
func All(rules ...Rule) Rule {
	return &compositeRule{rules: rules, mode: modeAll}
}

// Any matches when at least one sub-rule matches (logical OR). Reset
// cascades.
func Any(rules ...Rule) Rule {
	return &compositeRule{rules: rules, mode: modeAny}
}

// Not inverts a sub-rule. Reset cascades.
func Not(r Rule) Rule {
	return &compositeRule{rules: []Rule{r}, mode: modeNot}
}

type compositeMode int

const (
	modeAll compositeMode = iota
	modeAny
	modeNot
)

type compositeRule struct {
	rules []Rule
	mode  compositeMode
}

func (c *compositeRule) Match(f domain.Frame) bool {
	switch c.mode {
	case modeAny:
		for _, r := range c.rules {
			if r.Match(f) {
				return true
			}
		}
		return false
	case modeNot:
		return !c.rules[0].Match(f)
	default: // modeAll
		for _, r := range c.rules {
			if !r.Match(f) {
				return false
			}
		}
		return true
	}
}

func (c *compositeRule) Reset() {
	for _, r := range c.rules {
		r.Reset()
	}
}

// PairingRule implements the text-then-binary stateful pairing contract
// (§4.2): a text frame matching Header arms the latch and matches; the very
// next binary frame then matches and disarms it; every other frame misses.
// The runner resets the latch on every entry to Connected, so a
// half-consumed pair never leaks across a session boundary.
type PairingRule struct {
	// HeaderMatch reports whether a text frame's payload is this pair's
	// header, e.g. an event name prefix like `451-["updateClosedDeals"`.
	HeaderMatch func(payload string) bool

	mu     sync.Mutex
	armed  bool
}

// NewPairingRule builds a pairing rule keyed on a literal header prefix,
// the common case for PocketOption's `<id>-["eventName", ...]` framing.
func NewPairingRule(headerPrefix string) *PairingRule {
	return &PairingRule{HeaderMatch: func(payload string) bool {
		return strings.HasPrefix(payload, headerPrefix)
	}}
}

func (p *PairingRule) Match(f domain.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch f.Kind {
	case domain.FrameText:
		if p.HeaderMatch(f.String()) {
			p.armed = true
			return true
		}
		return false
	case domain.FrameBinary:
		if p.armed {
			p.armed = false
			return true
		}
		return false
	default:
		return false
	}
}

// Reset clears the latch. Called by the runner, through
// router.ResetLatches, on every entry to Connected.
func (p *PairingRule) Reset() {
	p.mu.Lock()
	p.armed = false
	p.mu.Unlock()
}

// Armed reports the current latch state; exposed for tests.
func (p *PairingRule) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}
