package introspect

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/introspect"
	"github.com/nordauth/oidcore/internal/svc"
)

func IntrospectHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := introspect.NewIntrospectLogic(r.Context(), svcCtx)
		resp, err := l.Introspect(r)
		if err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
