package session

import (
	"net/url"
	"regexp"
	"strings"
)

var recoveryMarker = regexp.MustCompile(`(^|[?&#])type=recovery(&|$)`)

// DetectRecovery reports whether rawURL is a followed recovery link and
// returns its token. The marker may sit in the query or the fragment.
func DetectRecovery(rawURL string) (token string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	query := "?" + u.RawQuery
	fragment := "#" + u.Fragment
	if !recoveryMarker.MatchString(query) && !recoveryMarker.MatchString(fragment) {
		return "", false
	}

	for _, raw := range []string{u.RawQuery, u.Fragment} {
		values, err := url.ParseQuery(raw)
		if err != nil {
			continue
		}
		for _, key := range []string{"token_hash", "token"} {
			if v := strings.TrimSpace(values.Get(key)); v != "" {
				return v, true
			}
		}
	}
	return "", true
}

// RecoveryLink builds the link a provider sends for token.
func RecoveryLink(returnURL, token string) (string, error) {
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("type", "recovery")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
