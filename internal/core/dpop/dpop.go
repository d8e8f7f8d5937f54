// Package dpop implements the DPoP Verifier (C4): parses and validates
// RFC 9449 proof JWTs, computes RFC 7638 JWK thumbprints, and guards
// against replay via a pluggable nonce cache.
package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	josejwk "github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	proofWindow = 60 * time.Second
	maxExpSkew  = 120 * time.Second
)

// NonceCache records (thumbprint, jti) pairs that have already been
// presented, so a proof cannot be replayed within its acceptance window.
// Implementations are expected to be Redis-backed (SETNX-style atomic
// insert) so the check is itself a single round trip.
type NonceCache interface {
	// SeenBefore atomically marks (jkt, jti) as used and reports whether
	// it had already been recorded, with a TTL of window.
	SeenBefore(jkt, jti string, window time.Duration) (bool, error)
}

// Result is what a successful verification yields.
type Result struct {
	JKT string
}

var allowedAlgs = map[string]bool{
	"RS256": true, "ES256": true, "RS384": true, "ES384": true,
	"RS512": true, "ES512": true, "PS256": true, "PS384": true, "PS512": true,
}

// Verify validates proofJWT against the incoming request's method and
// URL, and, if accessToken is non-empty, its ath binding.
func Verify(proofJWT, httpMethod, httpURL string, accessToken string, cache NonceCache) (*Result, error) {
	parser := jwt.NewParser(jwt.WithLeeway(proofWindow))
	claims := jwt.MapClaims{}

	var jwkMap map[string]interface{}
	token, err := parser.ParseWithClaims(proofJWT, claims, func(t *jwt.Token) (interface{}, error) {
		typ, _ := t.Header["typ"].(string)
		if typ != "dpop+jwt" {
			return nil, fmt.Errorf("dpop: unexpected typ %q", typ)
		}
		alg := t.Method.Alg()
		if !allowedAlgs[alg] {
			return nil, fmt.Errorf("dpop: algorithm %s not allowed", alg)
		}
		raw, ok := t.Header["jwk"]
		if !ok {
			return nil, fmt.Errorf("dpop: missing jwk header")
		}
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("dpop: malformed jwk header")
		}
		if _, hasPriv := m["d"]; hasPriv {
			return nil, fmt.Errorf("dpop: jwk header must not carry private key material")
		}
		jwkMap = m
		key, err := publicKeyFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("dpop: %w", err)
		}
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid_dpop_proof: signature invalid")
	}

	htm, _ := claims["htm"].(string)
	if !strings.EqualFold(htm, httpMethod) {
		return nil, fmt.Errorf("invalid_dpop_proof: htm mismatch")
	}

	htu, _ := claims["htu"].(string)
	if !urlsMatchIgnoringQueryAndFragment(htu, httpURL) {
		return nil, fmt.Errorf("invalid_dpop_proof: htu mismatch")
	}

	iat, ok := claims["iat"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid_dpop_proof: missing iat")
	}
	iatTime := time.Unix(int64(iat), 0)
	if time.Since(iatTime) > proofWindow || time.Until(iatTime) > proofWindow {
		return nil, fmt.Errorf("invalid_dpop_proof: iat outside acceptance window")
	}

	if exp, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(exp), 0).Sub(iatTime) > maxExpSkew {
			return nil, fmt.Errorf("invalid_dpop_proof: exp too far from iat")
		}
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, fmt.Errorf("invalid_dpop_proof: missing jti")
	}

	jkt, err := thumbprint(jwkMap)
	if err != nil {
		return nil, fmt.Errorf("invalid_dpop_proof: %w", err)
	}

	if cache != nil {
		seen, err := cache.SeenBefore(jkt, jti, proofWindow)
		if err != nil {
			return nil, fmt.Errorf("invalid_dpop_proof: nonce cache: %w", err)
		}
		if seen {
			return nil, fmt.Errorf("invalid_dpop_proof: replayed jti")
		}
	}

	if accessToken != "" {
		ath, _ := claims["ath"].(string)
		sum := sha256.Sum256([]byte(accessToken))
		expected := base64.RawURLEncoding.EncodeToString(sum[:])
		if ath != expected {
			return nil, fmt.Errorf("invalid_dpop_proof: ath mismatch")
		}
	}

	return &Result{JKT: jkt}, nil
}

func classify(err error) error {
	return fmt.Errorf("invalid_dpop_proof: %w", err)
}

func urlsMatchIgnoringQueryAndFragment(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	if err1 != nil || err2 != nil {
		return false
	}
	ua.RawQuery, ua.Fragment = "", ""
	ub.RawQuery, ub.Fragment = "", ""
	return strings.EqualFold(ua.String(), ub.String())
}

func publicKeyFromMap(m map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var jwk josejwk.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	if !jwk.Valid() {
		return nil, fmt.Errorf("invalid jwk")
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("jwk is not a public key")
	}
	return jwk.Key, nil
}

// Thumbprint exposes the RFC 7638 thumbprint computation for callers that
// already hold a decoded JWK map (e.g. when deriving dpop_jkt from an
// Authorization Endpoint DPoP header).
func Thumbprint(jwkMap map[string]interface{}) (string, error) {
	return thumbprint(jwkMap)
}

func thumbprint(m map[string]interface{}) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	var jwk josejwk.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return "", fmt.Errorf("parse jwk: %w", err)
	}
	sum, err := jwk.Thumbprint(josejwk.SHA256)
	if err != nil {
		return "", fmt.Errorf("thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
