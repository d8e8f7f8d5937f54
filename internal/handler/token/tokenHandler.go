package token

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/token"
	"github.com/nordauth/oidcore/internal/svc"
)

func TokenHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := token.NewTokenLogic(r.Context(), svcCtx)
		resp, err := l.Token(r)
		if err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
