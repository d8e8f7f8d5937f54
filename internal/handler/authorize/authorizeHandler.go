package authorize

import (
	"net/http"
	"net/url"

	coreauthorize "github.com/nordauth/oidcore/internal/core/authorize"
	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/authorize"
	"github.com/nordauth/oidcore/internal/svc"
)

func AuthorizeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := authorize.NewAuthorizeLogic(r.Context(), svcCtx)
		outcome, err := l.Authorize(r)
		if err != nil {
			writeAuthorizeError(w, r, err)
			return
		}
		http.Redirect(w, r, redirectURL(outcome), http.StatusFound)
	}
}

func redirectURL(o *coreauthorize.Outcome) string {
	v := url.Values{}
	v.Set("code", o.Code)
	if o.State != "" {
		v.Set("state", o.State)
	}
	if o.Issuer != "" {
		v.Set("iss", o.Issuer)
	}
	return o.RedirectURI + "?" + v.Encode()
}

// writeAuthorizeError renders a failed authorization request either as
// a 302 carrying the OAuth2 error parameters (when the redirect_uri was
// already validated) or as a plain JSON error body, per spec §4.8's
// "never redirect an unvalidated error" rule.
func writeAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	authzErr, ok := err.(*coreauthorize.Error)
	if !ok || !authzErr.RedirectSafe {
		oautherr.Write(r.Context(), w, err)
		return
	}

	v := url.Values{}
	v.Set("error", authzErr.Code)
	if authzErr.Description != "" {
		v.Set("error_description", authzErr.Description)
	}
	if authzErr.State != "" {
		v.Set("state", authzErr.State)
	}
	http.Redirect(w, r, authzErr.RedirectURI+"?"+v.Encode(), http.StatusFound)
}
