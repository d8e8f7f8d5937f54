// Package reqobj implements the Request Object Parser (C6, JAR): decodes
// and validates signed or unsigned authorization-request JWTs, producing
// a parameter bundle that overrides any duplicate query/body parameters.
package reqobj

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

const maxRequestObjectBytes = 16 * 1024

// ClientKeyResolver resolves the verification key for a client's
// request-object signature, backed by the Client Registry (C5) in
// production.
type ClientKeyResolver interface {
	ResolveKey(ctx context.Context, client *oidctypes.ClientRecord, kid string) (interface{}, error)
}

// Parse validates requestJWT (the `request` parameter) and returns its
// parameter bundle as string-valued query parameters, matching the shape
// the Authorization Endpoint already accepts from the query string.
func Parse(ctx context.Context, requestJWT string, client *oidctypes.ClientRecord, resolver ClientKeyResolver, allowNoneAlgorithm bool) (map[string]string, error) {
	if len(requestJWT) > maxRequestObjectBytes {
		return nil, fmt.Errorf("invalid_request: request object exceeds 16 KiB")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()

	_, err := parser.ParseWithClaims(requestJWT, claims, func(t *jwt.Token) (interface{}, error) {
		alg := t.Method.Alg()
		if alg == "none" {
			if !allowNoneAlgorithm {
				return nil, fmt.Errorf("alg=none rejected for request objects in production")
			}
			return jwt.UnsafeAllowNoneSignatureType, nil
		}
		kid, _ := t.Header["kid"].(string)
		return resolver.ResolveKey(ctx, client, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid_request: request object verification failed: %w", err)
	}

	bundle := make(map[string]string, len(claims))
	for k, v := range claims {
		if s, ok := v.(string); ok {
			bundle[k] = s
		}
	}
	return bundle, nil
}

// Overlay applies a request-object bundle on top of query/body
// parameters, with the request object winning on any key collision, per
// spec §9's request-object-precedence design note.
func Overlay(base map[string]string, requestObject map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(requestObject))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range requestObject {
		merged[k] = v
	}
	return merged
}
