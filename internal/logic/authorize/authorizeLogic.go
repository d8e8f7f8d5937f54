package authorize

import (
	"context"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	coreauthorize "github.com/nordauth/oidcore/internal/core/authorize"
	"github.com/nordauth/oidcore/internal/core/dpop"
	"github.com/nordauth/oidcore/internal/core/session"
	"github.com/nordauth/oidcore/internal/svc"
)

type AuthorizeLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewAuthorizeLogic(ctx context.Context, svcCtx *svc.ServiceContext) *AuthorizeLogic {
	return &AuthorizeLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Authorize drives the twelve-step Authorization Endpoint pipeline
// (C8), binding r's query (GET) or form body (POST) into the parameter
// bundle Process expects, plus whatever session cookie the first-party
// login UI already set.
func (l *AuthorizeLogic) Authorize(r *http.Request) (*coreauthorize.Outcome, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &coreauthorize.Error{Code: "invalid_request", Description: err.Error()}
	}

	params := make(map[string]string, len(r.Form))
	for key := range r.Form {
		params[key] = r.Form.Get(key)
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		params[session.ParamKey] = cookie.Value
	}

	var dpopJKT string
	if proof := r.Header.Get("DPoP"); proof != "" {
		result, err := dpop.Verify(proof, r.Method, requestURL(r), "", l.svcCtx.DPoPNonces)
		if err != nil {
			return nil, &coreauthorize.Error{Code: "invalid_dpop_proof", Description: err.Error()}
		}
		dpopJKT = result.JKT
	}

	req := coreauthorize.Request{
		Params:          params,
		RequestURI:      params["request_uri"],
		ClientKeyHeader: dpopJKT,
	}

	return l.svcCtx.Authorize.Process(l.ctx, req)
}

// sessionCookieName is the first-party login UI's session cookie, read
// here and handed to the session.CookieResolver via the params bundle.
const sessionCookieName = "oidcore_session"

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
