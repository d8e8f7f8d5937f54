// Package profile implements the Settings/Profile Engine: a declarative
// set of toggles that every other component reads on each request rather
// than compiling in once at startup.
package profile

import (
	"sync/atomic"
	"time"
)

// SettingsProfile is the declarative bundle of toggles named by a
// profile. Applying a profile is an atomic pointer swap; in-flight
// requests observe whichever value was current when they read it, and
// every new request observes the latest swap.
type SettingsProfile struct {
	Name                     string
	RequirePAR               bool
	AllowPublicClients       bool
	RequireDPoP              bool
	PKCEMethods              []string
	TokenEndpointAuthMethods []string
	AllowNoneAlgorithm       bool
	RefreshTokenTTL          time.Duration
	AccessTokenTTL           time.Duration
	CodeTTL                  time.Duration
	RequireFAPIIss           bool
}

// Named profiles. basic-op is the permissive default; fapi-2 and
// fapi-2-dpop tighten PKCE, client auth, and sender-constraining per the
// FAPI 2.0 Security Profile; development additionally allows alg=none for
// local testing against unsigned fixtures.
var (
	BasicOP = SettingsProfile{
		Name:                     "basic-op",
		RequirePAR:               false,
		AllowPublicClients:       true,
		RequireDPoP:              false,
		PKCEMethods:              []string{"S256", "plain"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "private_key_jwt", "none"},
		AllowNoneAlgorithm:       false,
		RefreshTokenTTL:          30 * 24 * time.Hour,
		AccessTokenTTL:           time.Hour,
		CodeTTL:                  120 * time.Second,
	}

	FAPI2 = SettingsProfile{
		Name:                     "fapi-2",
		RequirePAR:               true,
		AllowPublicClients:       false,
		RequireDPoP:              false,
		PKCEMethods:              []string{"S256"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "client_secret_jwt"},
		AllowNoneAlgorithm:       false,
		RefreshTokenTTL:          30 * 24 * time.Hour,
		AccessTokenTTL:           time.Hour,
		CodeTTL:                  60 * time.Second,
		RequireFAPIIss:           true,
	}

	FAPI2DPoP = SettingsProfile{
		Name:                     "fapi-2-dpop",
		RequirePAR:               true,
		AllowPublicClients:       false,
		RequireDPoP:              true,
		PKCEMethods:              []string{"S256"},
		TokenEndpointAuthMethods: []string{"private_key_jwt", "client_secret_jwt"},
		AllowNoneAlgorithm:       false,
		RefreshTokenTTL:          30 * 24 * time.Hour,
		AccessTokenTTL:           time.Hour,
		CodeTTL:                  60 * time.Second,
		RequireFAPIIss:           true,
	}

	Development = SettingsProfile{
		Name:                     "development",
		RequirePAR:               false,
		AllowPublicClients:       true,
		RequireDPoP:              false,
		PKCEMethods:              []string{"S256", "plain"},
		TokenEndpointAuthMethods: []string{"client_secret_basic", "client_secret_post", "private_key_jwt", "none"},
		AllowNoneAlgorithm:       true,
		RefreshTokenTTL:          24 * time.Hour,
		AccessTokenTTL:           15 * time.Minute,
		CodeTTL:                  120 * time.Second,
	}
)

var byName = map[string]SettingsProfile{
	BasicOP.Name:     BasicOP,
	FAPI2.Name:       FAPI2,
	FAPI2DPoP.Name:   FAPI2DPoP,
	Development.Name: Development,
}

// Lookup resolves a profile by its configured name.
func Lookup(name string) (SettingsProfile, bool) {
	p, ok := byName[name]
	return p, ok
}

// Engine holds the active profile behind an atomic.Value so Apply and
// Current never block each other and every read sees a fully-formed
// SettingsProfile.
type Engine struct {
	active atomic.Value
}

// NewEngine starts the engine on the given initial profile.
func NewEngine(initial SettingsProfile) *Engine {
	e := &Engine{}
	e.active.Store(initial)
	return e
}

// Current returns the profile in effect for this request.
func (e *Engine) Current() SettingsProfile {
	return e.active.Load().(SettingsProfile)
}

// Apply atomically swaps the active profile. Endpoints observe the new
// profile on their very next call to Current.
func (e *Engine) Apply(p SettingsProfile) {
	e.active.Store(p)
}

// PKCEMethodAllowed reports whether method is permitted by the current
// profile (resolves the spec's plain vs S256-only open question).
func (p SettingsProfile) PKCEMethodAllowed(method string) bool {
	for _, m := range p.PKCEMethods {
		if m == method {
			return true
		}
	}
	return false
}

// AuthMethodAllowed reports whether a token-endpoint client
// authentication method is permitted by the current profile.
func (p SettingsProfile) AuthMethodAllowed(method string) bool {
	for _, m := range p.TokenEndpointAuthMethods {
		if m == method {
			return true
		}
	}
	return false
}
