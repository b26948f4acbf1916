package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for input that is not a well-formed absolute URL.
var ErrInvalidURL = errors.New("invalid url")

// trackingParams are query parameters stripped during normalization.
// Click-tracking and campaign identifiers never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"_ga":          {},
	"_gl":          {},
	"ref":          {},
	"source":       {},
}

// Normalize canonicalizes a raw URL and derives its dedup fingerprint.
// Normalizing an already-normalized URL yields the same result.
func Normalize(raw string) (normalized, fingerprint string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Host)

	query := u.Query()
	for key := range query {
		if _, ok := trackingParams[key]; ok {
			query.Del(key)
		}
	}
	// Encode sorts by key, giving a canonical parameter order.
	u.RawQuery = query.Encode()
	u.Fragment = ""

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = u.Path[:len(u.Path)-1]
	}

	normalized = u.String()
	sum := sha256.Sum256([]byte(normalized))
	return normalized, hex.EncodeToString(sum[:]), nil
}

// Host extracts the lowercased host of a URL, without a leading "www.".
// Links are grouped into scheduler lanes by this value.
func Host(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	return normalizeHost(u.Host), nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}
