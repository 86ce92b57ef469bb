// Package scope extracts personal-data scope grants from a signed
// SIWE-style consent message. The grammar is line-oriented and deliberately
// tolerant: malformed messages degrade to an empty scope list instead of
// failing, with the exception of the expiration check, which is strict.
package scope

import (
	"strings"
	"time"

	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

// Recognized scope tokens. Unrecognized tokens survive parsing but are
// skipped at resolution time.
const (
	ScopePhone     = "user.phone"
	ScopeEmail     = "user.email"
	ScopeIdentity  = "user.identity"
	ScopeRegion    = "user.region"
	ScopeAddresses = "user.addresses"
)

const (
	expirationPrefix = "Expiration"
	resourcesPrefix  = "Resources"
)

// timestampLayouts are tried in order when parsing an expiration value
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// IsRecognized reports whether token names a scope this service can resolve
func IsRecognized(token string) bool {
	switch token {
	case ScopePhone, ScopeEmail, ScopeIdentity, ScopeRegion, ScopeAddresses:
		return true
	}
	return false
}

// Parse scans message for an expiration declaration and a resource block and
// returns the granted scope tokens in document order.
//
// Every line is scanned: any line with the Expiration prefix whose value
// (the text after the first colon) parses to a time before now fails with
// the expired error, regardless of where the line sits. When several
// Resources markers appear, the last one wins; when none appears the block
// starts at line 0, which usually yields an empty list.
func Parse(message string, now time.Time) ([]string, error) {
	lines := strings.Split(message, "\n")

	blockStart := 0
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")

		if strings.HasPrefix(line, expirationPrefix) {
			if idx := strings.Index(line, ":"); idx >= 0 {
				value := strings.TrimSpace(line[idx+1:])
				if ts, ok := parseTimestamp(value); ok && ts.Before(now) {
					return nil, apperrors.ErrExpired
				}
			}
		}

		if strings.HasPrefix(line, resourcesPrefix) {
			blockStart = i + 1
		}
	}

	var scopes []string
	for i := blockStart; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if !strings.HasPrefix(line, "-") {
			break
		}
		token := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		scopes = append(scopes, token)
	}

	return scopes, nil
}

func parseTimestamp(value string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
