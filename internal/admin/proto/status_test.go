package proto

import (
	"reflect"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := StatusSnapshot{
		Mode:                "run",
		ConnectionState:     "connected",
		BalanceKnown:        true,
		Balance:             1234.56,
		OpenDeals:           3,
		ClosedDeals:         128,
		ActiveSubscriptions: 2,
		UptimeSeconds:       9001,
		RuleLatches: []RuleLatch{
			{Name: "deals", Armed: true},
			{Name: "candles", Armed: false},
		},
	}

	data := Marshal(in)
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestMarshalOmitsZeroFields(t *testing.T) {
	data := Marshal(StatusSnapshot{})
	if len(data) != 0 {
		t.Fatalf("expected empty encoding for zero-value snapshot, got %d bytes", len(data))
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	in := StatusSnapshot{Mode: "capture"}
	data := Marshal(in)

	// Append a bogus varint field (number 99) the decoder doesn't know about.
	data = appendVarint(data, 99, 7)

	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Mode != "capture" {
		t.Fatalf("expected known fields to survive unknown trailing field, got %+v", out)
	}
}
