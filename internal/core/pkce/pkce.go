// Package pkce implements the PKCE Verifier (C3): RFC 7636 S256
// challenge/verifier matching, with the plain-vs-S256-only policy
// delegated to the caller's active SettingsProfile.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
)

var verifierPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// Verify checks a code_verifier against a code_challenge under method,
// honoring the set of methods the active profile allows.
func Verify(challenge, method, verifier string, allowedMethods []string) (bool, error) {
	if !methodAllowed(method, allowedMethods) {
		return false, fmt.Errorf("pkce: method %q not permitted by active profile", method)
	}
	if !verifierPattern.MatchString(verifier) {
		return false, fmt.Errorf("pkce: verifier does not match required charset/length")
	}

	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1, nil
	case "plain":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1, nil
	default:
		return false, fmt.Errorf("pkce: unsupported code_challenge_method %q", method)
	}
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}
