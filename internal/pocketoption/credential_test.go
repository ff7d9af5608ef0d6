package pocketoption

import (
	"net/url"
	"testing"
	"time"
)

func TestParseSessionBlobBareString(t *testing.T) {
	tok, err := ParseSessionBlob("abc123session")
	if err != nil {
		t.Fatalf("ParseSessionBlob: %v", err)
	}
	if tok.Session != "abc123session" {
		t.Errorf("got session %q, want abc123session", tok.Session)
	}
}

func TestParseSessionBlobSerialized(t *testing.T) {
	raw := `a:4:{s:10:"session_id";s:9:"sess-9000";s:10:"ip_address";s:7:"1.2.3.4";s:10:"user_agent";s:5:"Gecko";s:13:"last_activity";i:1700000000;}`
	// note: last_activity is an int-style serialized field ("i:") which the
	// string-field regex intentionally does not capture; only the string
	// fields above are expected to populate.
	tok, err := ParseSessionBlob(raw)
	if err != nil {
		t.Fatalf("ParseSessionBlob: %v", err)
	}
	if tok.Session != "sess-9000" {
		t.Errorf("got session %q, want sess-9000", tok.Session)
	}
	if tok.UserAgent != "Gecko" {
		t.Errorf("got user agent %q, want Gecko", tok.UserAgent)
	}
}

func TestParseSessionBlobJSON(t *testing.T) {
	raw := `{"session":"sess-json","ip_address":"9.9.9.9","user_agent":"curl","last_activity":1700000000}`
	tok, err := ParseSessionBlob(raw)
	if err != nil {
		t.Fatalf("ParseSessionBlob: %v", err)
	}
	if tok.Session != "sess-json" {
		t.Errorf("got session %q, want sess-json", tok.Session)
	}
	if tok.IP != "9.9.9.9" {
		t.Errorf("got ip %q, want 9.9.9.9", tok.IP)
	}
	want := time.Unix(1700000000, 0).UTC()
	if !tok.LastActivity.Equal(want) {
		t.Errorf("got last activity %v, want %v", tok.LastActivity, want)
	}
}

func TestParseSessionBlobURLEncodedJSON(t *testing.T) {
	raw := url.QueryEscape(`{"session":"sess-enc"}`)
	tok, err := ParseSessionBlob(raw)
	if err != nil {
		t.Fatalf("ParseSessionBlob: %v", err)
	}
	if tok.Session != "sess-enc" {
		t.Errorf("got session %q, want sess-enc", tok.Session)
	}
}

func TestParseSessionBlobRejectsEmpty(t *testing.T) {
	if _, err := ParseSessionBlob(""); err == nil {
		t.Fatal("expected error for empty blob")
	}
}
