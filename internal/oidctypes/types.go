// Package oidctypes holds the shared data model for the authorization
// core: signing keys, client records, codes, PAR requests, refresh
// families, and the other entities that cross package boundaries.
package oidctypes

import "time"

// SigningKey is owned exclusively by the KeyManager. PrivateMaterial
// never leaves that package's boundary; every other component only ever
// sees a PublicJWK.
type SigningKey struct {
	Kid             string
	Alg             string
	PrivateMaterial interface{}
	PublicJWK       map[string]interface{}
	CreatedAt       time.Time
	Active          bool
	RetiredAt       *time.Time
}

// ClientRecord describes a registered OAuth2/OIDC client.
type ClientRecord struct {
	ClientID                string
	ClientSecretHash        string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   []string
	TokenEndpointAuthMethod string
	JWKS                    map[string]interface{}
	JWKSURI                 string
	SubjectType             string // "public" | "pairwise"
	SectorIdentifierURI     string
	ApplicationType         string
	RequirePKCE             bool
	AllowedSigningAlgs      []string
	AllowOfflineAccess      bool
}

// AuthorizationCode is a one-shot code minted by the Authorization
// Endpoint and consumed exactly once by the Token Endpoint.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               []string
	Sub                 string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ClaimsJSON          string
	DPoPJKT             string
	ACR                 string
	AuthTime            time.Time
	CreatedAt           time.Time
	Used                bool
	IssuedTokenJTI       string
}

// Expired reports whether the code has exceeded its 120s lifetime.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.Sub(c.CreatedAt) > 120*time.Second
}

// PARRequest is the parameter bundle stashed by a Pushed Authorization
// Request and retrieved exactly once by the Authorization Endpoint.
type PARRequest struct {
	RequestURI string
	ClientID   string
	Params     map[string]string
	CreatedAt  time.Time
}

// Expired reports whether the request has exceeded its 600s lifetime.
func (p *PARRequest) Expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > 600*time.Second
}

// TokenFamily is the lineage of a refresh token across rotations.
type TokenFamily struct {
	ClientID      string
	UserID        string
	Version       int64
	LastJTI       string
	LastUsedAt    time.Time
	ExpiresAt     time.Time
	AllowedScope  []string
	Revoked       bool
	RevokedReason string
}

// DPoPNonceRecord marks a (jkt, jti) pair as seen, for replay rejection.
type DPoPNonceRecord struct {
	JTI    string
	SubJKT string
	Exp    time.Time
}

// RevokedAccessToken records a jti that must be treated as invalid until
// its natural expiry.
type RevokedAccessToken struct {
	JTI       string
	ExpiresAt time.Time
}

// DiscoveryView is the pure, serializable projection of a SettingsProfile
// served at /.well-known/openid-configuration.
type DiscoveryView struct {
	Issuer                              string   `json:"issuer"`
	AuthorizationEndpoint               string   `json:"authorization_endpoint"`
	TokenEndpoint                       string   `json:"token_endpoint"`
	UserinfoEndpoint                    string   `json:"userinfo_endpoint"`
	JWKSURI                             string   `json:"jwks_uri"`
	PushedAuthorizationRequestEndpoint  string   `json:"pushed_authorization_request_endpoint"`
	IntrospectionEndpoint               string   `json:"introspection_endpoint"`
	RevocationEndpoint                  string   `json:"revocation_endpoint"`
	RegistrationEndpoint                string   `json:"registration_endpoint"`
	ResponseTypesSupported              []string `json:"response_types_supported"`
	SubjectTypesSupported               []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported    []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported   []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported       []string `json:"code_challenge_methods_supported"`
	RequirePushedAuthorizationRequests  bool     `json:"require_pushed_authorization_requests"`
	DPoPSigningAlgValuesSupported       []string `json:"dpop_signing_alg_values_supported"`
	ScopesSupported                     []string `json:"scopes_supported"`
	ClaimsSupported                     []string `json:"claims_supported"`
	GrantTypesSupported                 []string `json:"grant_types_supported"`
}

// AuditEntry is a single record flowing into the Audit Sink, synchronous
// or batched.
type AuditEntry struct {
	Timestamp     time.Time
	TenantID      string
	Actor         string
	Event         string
	Resource      string
	Outcome       string
	Details       map[string]interface{}
	CorrelationID string
}
