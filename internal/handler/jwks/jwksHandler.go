package jwks

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/logic/jwks"
	"github.com/nordauth/oidcore/internal/svc"
)

func JWKSHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := jwks.NewJWKSLogic(r.Context(), svcCtx)
		resp, err := l.JWKS()
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
