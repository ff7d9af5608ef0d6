// Package middleware implements the router/runner observer stack (§4.6):
// every inbound frame, outbound frame, and connection-state transition
// passes through an ordered list of Middleware before reaching its rule
// or writer.
package middleware

import "github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"

// Middleware observes frame and connection lifecycle events. An error
// returned from OnReceive or OnSend aborts processing of the current
// frame; OnConnect/OnDisconnect errors are logged by the caller but never
// abort the state transition.
type Middleware interface {
	OnReceive(f domain.Frame) error
	OnSend(f domain.Frame) error
	OnConnect() error
	OnDisconnect() error
}

// Stack runs an ordered list of Middleware, short-circuiting on the first
// error from OnReceive/OnSend.
type Stack struct {
	chain []Middleware
}

// NewStack builds a stack from the given middlewares in registration order.
func NewStack(mws ...Middleware) *Stack {
	return &Stack{chain: mws}
}

// Append adds a middleware to the end of the chain.
func (s *Stack) Append(m Middleware) {
	s.chain = append(s.chain, m)
}

func (s *Stack) OnReceive(f domain.Frame) error {
	for _, m := range s.chain {
		if err := m.OnReceive(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) OnSend(f domain.Frame) error {
	for _, m := range s.chain {
		if err := m.OnSend(f); err != nil {
			return err
		}
	}
	return nil
}

// OnConnect runs every middleware's OnConnect hook, collecting but not
// propagating individual errors (a misbehaving middleware must not abort
// the connection, per §4.5).
func (s *Stack) OnConnect() []error {
	var errs []error
	for _, m := range s.chain {
		if err := m.OnConnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// OnDisconnect runs every middleware's OnDisconnect hook, same error
// policy as OnConnect.
func (s *Stack) OnDisconnect() []error {
	var errs []error
	for _, m := range s.chain {
		if err := m.OnDisconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
