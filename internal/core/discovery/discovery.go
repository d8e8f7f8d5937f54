// Package discovery implements the Discovery Publisher (C13): a pure
// projection of the active SettingsProfile into OIDC provider metadata,
// cached for 300s via an LRU cache (eschercloudai-unikorn's
// hashicorp/golang-lru/v2 pick) keyed on the profile name so a profile
// swap invalidates the cache on the very next read.
package discovery

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/oidctypes"
)

const cacheTTL = 300 * time.Second

// Endpoints is the fixed set of URLs this provider serves, independent
// of the active profile.
type Endpoints struct {
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserinfoEndpoint      string
	JWKSURI               string
	PAREndpoint           string
	IntrospectionEndpoint string
	RevocationEndpoint    string
	RegistrationEndpoint  string
}

type cacheEntry struct {
	view      oidctypes.DiscoveryView
	expiresAt time.Time
}

// Publisher is C13.
type Publisher struct {
	endpoints Endpoints
	profiles  *profile.Engine
	cache     *lru.Cache[string, cacheEntry]
}

// New builds a Publisher. The LRU holds only a handful of entries (one
// per distinct profile name ever applied), so a small fixed capacity is
// plenty.
func New(endpoints Endpoints, profiles *profile.Engine) *Publisher {
	cache, _ := lru.New[string, cacheEntry](8)
	return &Publisher{endpoints: endpoints, profiles: profiles, cache: cache}
}

// View renders the discovery document for the profile currently active,
// serving a cached copy when it is less than 300s old.
func (p *Publisher) View() oidctypes.DiscoveryView {
	current := p.profiles.Current()

	if entry, ok := p.cache.Get(current.Name); ok && time.Now().Before(entry.expiresAt) {
		return entry.view
	}

	view := render(p.endpoints, current)
	p.cache.Add(current.Name, cacheEntry{view: view, expiresAt: time.Now().Add(cacheTTL)})
	return view
}

func render(e Endpoints, s profile.SettingsProfile) oidctypes.DiscoveryView {
	responseTypes := []string{"code"}
	authMethods := append([]string(nil), s.TokenEndpointAuthMethods...)
	pkceMethods := append([]string(nil), s.PKCEMethods...)

	dpopAlgs := []string{}
	if s.RequireDPoP {
		dpopAlgs = []string{"RS256", "ES256", "RS384", "ES384", "RS512", "ES512"}
	}

	return oidctypes.DiscoveryView{
		Issuer:                             e.Issuer,
		AuthorizationEndpoint:              e.AuthorizationEndpoint,
		TokenEndpoint:                      e.TokenEndpoint,
		UserinfoEndpoint:                   e.UserinfoEndpoint,
		JWKSURI:                            e.JWKSURI,
		PushedAuthorizationRequestEndpoint: e.PAREndpoint,
		IntrospectionEndpoint:              e.IntrospectionEndpoint,
		RevocationEndpoint:                 e.RevocationEndpoint,
		RegistrationEndpoint:               e.RegistrationEndpoint,
		ResponseTypesSupported:             responseTypes,
		SubjectTypesSupported:              []string{"public", "pairwise"},
		IDTokenSigningAlgValuesSupported:   []string{"RS256", "ES256", "RS384", "ES384", "RS512", "ES512"},
		TokenEndpointAuthMethodsSupported:  authMethods,
		CodeChallengeMethodsSupported:      pkceMethods,
		RequirePushedAuthorizationRequests: s.RequirePAR,
		DPoPSigningAlgValuesSupported:      dpopAlgs,
		ScopesSupported:                    []string{"openid", "profile", "email", "address", "phone", "offline_access"},
		ClaimsSupported:                    []string{"sub", "iss", "aud", "exp", "iat", "name", "email", "email_verified"},
		GrantTypesSupported:                []string{"authorization_code", "refresh_token"},
	}
}
