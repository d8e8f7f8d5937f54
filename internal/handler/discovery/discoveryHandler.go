package discovery

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/logic/discovery"
	"github.com/nordauth/oidcore/internal/svc"
)

func DiscoveryHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := discovery.NewDiscoveryLogic(r.Context(), svcCtx)
		resp, err := l.Discovery()
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
