package par

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/par"
	"github.com/nordauth/oidcore/internal/svc"
	"github.com/nordauth/oidcore/internal/types"
)

func ParHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := par.NewParLogic(r.Context(), svcCtx)
		result, err := l.Par(r)
		if err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}
		httpx.WriteJsonCtx(r.Context(), w, http.StatusCreated, types.PARResponse{
			RequestURI: result.RequestURI,
			ExpiresIn:  result.ExpiresIn,
		})
	}
}
