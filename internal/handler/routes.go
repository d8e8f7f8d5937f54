// Package handler registers every front-door HTTP route this server
// exposes. No goctl-generated routes.go exists for this service (it was
// never scaffolded from a .api file); this file is hand-authored in
// goctl's own AddRoutes shape instead.
package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"github.com/nordauth/oidcore/internal/handler/authorize"
	"github.com/nordauth/oidcore/internal/handler/discovery"
	"github.com/nordauth/oidcore/internal/handler/introspect"
	"github.com/nordauth/oidcore/internal/handler/jwks"
	"github.com/nordauth/oidcore/internal/handler/par"
	"github.com/nordauth/oidcore/internal/handler/register"
	"github.com/nordauth/oidcore/internal/handler/revoke"
	"github.com/nordauth/oidcore/internal/handler/token"
	"github.com/nordauth/oidcore/internal/handler/userinfo"
	"github.com/nordauth/oidcore/internal/svc"
)

// RegisterHandlers wires every provider endpoint onto server.
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) {
	server.AddRoutes([]rest.Route{
		{
			Method:  http.MethodGet,
			Path:    "/.well-known/openid-configuration",
			Handler: discovery.DiscoveryHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/.well-known/jwks.json",
			Handler: jwks.JWKSHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/authorize",
			Handler: authorize.AuthorizeHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/authorize",
			Handler: authorize.AuthorizeHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/as/par",
			Handler: par.ParHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/token",
			Handler: token.TokenHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/userinfo",
			Handler: userinfo.UserInfoHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/userinfo",
			Handler: userinfo.UserInfoHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/introspect",
			Handler: introspect.IntrospectHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/revoke",
			Handler: revoke.RevokeHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/register",
			Handler: register.RegisterHandler(svcCtx),
		},
	})
}
