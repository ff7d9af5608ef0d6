// Package proto implements the wire encoding for the admin WebSocket
// status hub's binary snapshots, using protobuf's low-level wire helpers
// directly rather than a generated message type: the schema is small and
// stable enough that hand-written encode/decode is clearer than carrying a
// .proto toolchain step for one message.
package proto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// RuleLatch reports one router rule's stateful-latch status, for pairing
// rules mid-way through a header/body match.
type RuleLatch struct {
	Name  string
	Armed bool
}

// StatusSnapshot is one point-in-time view of the engine pushed to every
// connected admin WebSocket client.
type StatusSnapshot struct {
	Mode                string
	ConnectionState     string
	BalanceKnown        bool
	Balance             float64
	OpenDeals           int64
	ClosedDeals         int64
	ActiveSubscriptions int64
	UptimeSeconds       int64
	RuleLatches         []RuleLatch
}

const (
	fieldMode = 1 + iota
	fieldConnectionState
	fieldBalanceKnown
	fieldBalance
	fieldOpenDeals
	fieldClosedDeals
	fieldActiveSubscriptions
	fieldUptimeSeconds
	fieldRuleLatches
)

const (
	latchFieldName = 1 + iota
	latchFieldArmed
)

// Marshal encodes a StatusSnapshot to its protobuf wire form.
func Marshal(s StatusSnapshot) []byte {
	var b []byte
	b = appendString(b, fieldMode, s.Mode)
	b = appendString(b, fieldConnectionState, s.ConnectionState)
	b = appendBool(b, fieldBalanceKnown, s.BalanceKnown)
	b = appendDouble(b, fieldBalance, s.Balance)
	b = appendVarint(b, fieldOpenDeals, uint64(s.OpenDeals))
	b = appendVarint(b, fieldClosedDeals, uint64(s.ClosedDeals))
	b = appendVarint(b, fieldActiveSubscriptions, uint64(s.ActiveSubscriptions))
	b = appendVarint(b, fieldUptimeSeconds, uint64(s.UptimeSeconds))
	for _, rl := range s.RuleLatches {
		b = protowire.AppendTag(b, fieldRuleLatches, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalLatch(rl))
	}
	return b
}

func marshalLatch(rl RuleLatch) []byte {
	var b []byte
	b = appendString(b, latchFieldName, rl.Name)
	b = appendBool(b, latchFieldArmed, rl.Armed)
	return b
}

// Unmarshal decodes a StatusSnapshot from its protobuf wire form.
func Unmarshal(data []byte) (StatusSnapshot, error) {
	var s StatusSnapshot
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("admin/proto: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldMode:
			v, m := consumeString(data, typ)
			s.Mode, data = v, data[m:]
		case fieldConnectionState:
			v, m := consumeString(data, typ)
			s.ConnectionState, data = v, data[m:]
		case fieldBalanceKnown:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return s, err
			}
			s.BalanceKnown, data = v != 0, data[m:]
		case fieldBalance:
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return s, fmt.Errorf("admin/proto: consume balance: %w", protowire.ParseError(m))
			}
			s.Balance, data = fixed64ToFloat64(v), data[m:]
		case fieldOpenDeals:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return s, err
			}
			s.OpenDeals, data = int64(v), data[m:]
		case fieldClosedDeals:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return s, err
			}
			s.ClosedDeals, data = int64(v), data[m:]
		case fieldActiveSubscriptions:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return s, err
			}
			s.ActiveSubscriptions, data = int64(v), data[m:]
		case fieldUptimeSeconds:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return s, err
			}
			s.UptimeSeconds, data = int64(v), data[m:]
		case fieldRuleLatches:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("admin/proto: consume rule latch: %w", protowire.ParseError(m))
			}
			rl, err := unmarshalLatch(v)
			if err != nil {
				return s, err
			}
			s.RuleLatches = append(s.RuleLatches, rl)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, fmt.Errorf("admin/proto: skip unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return s, nil
}

func unmarshalLatch(data []byte) (RuleLatch, error) {
	var rl RuleLatch
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return rl, fmt.Errorf("admin/proto: consume latch tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case latchFieldName:
			v, m := consumeString(data, typ)
			rl.Name, data = v, data[m:]
		case latchFieldArmed:
			v, m, err := consumeVarint(data, typ)
			if err != nil {
				return rl, err
			}
			rl.Armed, data = v != 0, data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return rl, fmt.Errorf("admin/proto: skip unknown latch field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return rl, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, float64ToFixed64(v))
}

func consumeString(data []byte, typ protowire.Type) (string, int) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return "", len(data)
	}
	return string(v), n
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("admin/proto: consume varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func float64ToFixed64(v float64) uint64 { return math.Float64bits(v) }
func fixed64ToFloat64(v uint64) float64 { return math.Float64frombits(v) }
