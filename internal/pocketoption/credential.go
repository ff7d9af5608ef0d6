package pocketoption

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// serializedFieldRe walks a PHP-serialize-style string, e.g.
// `a:4:{s:10:"session_id";s:32:"abc...";s:10:"ip_address";s:9:"1.2.3.4";}`,
// pulling out string-valued fields by name. PocketOption's browser export
// emits session blobs in exactly this shape.
var serializedFieldRe = regexp.MustCompile(`s:\d+:"([a-zA-Z_]+)";s:\d+:"([^"]*)"`)

// jsonSessionBlob is the shape of a session blob when it is JSON rather
// than PHP-serialized.
type jsonSessionBlob struct {
	Session      string `json:"session"`
	SessionID    string `json:"session_id"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	LastActivity int64  `json:"last_activity"`
}

// ParseSessionBlob tolerantly decodes the SSID string copied out of a
// PocketOption browser session: it may be a bare session id, a PHP-style
// serialized array, or a JSON object, optionally URL-escaped. Fields that
// fail to decode are left at their zero values rather than causing parsing
// to fail: a best-effort SessionToken is always better than rejecting
// outright when only one field is malformed.
func ParseSessionBlob(raw string) (domain.SessionToken, error) {
	if raw == "" {
		return domain.SessionToken{}, domain.NewError("pocketoption.ParseSessionBlob", domain.KindValidation, "ssid must not be empty")
	}

	if tok, ok := parseSerialized(raw); ok {
		return tok, nil
	}
	if tok, ok := parseJSON(raw); ok {
		return tok, nil
	}
	return domain.SessionToken{Session: raw}, nil
}

func parseSerialized(raw string) (domain.SessionToken, bool) {
	matches := serializedFieldRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return domain.SessionToken{}, false
	}

	fields := make(map[string]string, len(matches))
	for _, m := range matches {
		fields[m[1]] = m[2]
	}

	tok := domain.SessionToken{
		Session:   firstNonEmpty(fields["session"], fields["session_id"]),
		IP:        fields["ip_address"],
		UserAgent: fields["user_agent"],
	}
	if raw, ok := fields["last_activity"]; ok {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			tok.LastActivity = time.Unix(secs, 0).UTC()
		}
	}
	if tok.Session == "" {
		return domain.SessionToken{}, false
	}
	return tok, true
}

func parseJSON(raw string) (domain.SessionToken, bool) {
	candidate := raw
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		candidate = unescaped
	}

	var blob jsonSessionBlob
	if err := json.Unmarshal([]byte(candidate), &blob); err != nil {
		return domain.SessionToken{}, false
	}

	session := firstNonEmpty(blob.Session, blob.SessionID)
	if session == "" {
		return domain.SessionToken{}, false
	}

	tok := domain.SessionToken{
		Session:   session,
		IP:        blob.IPAddress,
		UserAgent: blob.UserAgent,
	}
	if blob.LastActivity > 0 {
		tok.LastActivity = time.Unix(blob.LastActivity, 0).UTC()
	}
	return tok, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
