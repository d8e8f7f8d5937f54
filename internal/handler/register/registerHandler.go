package register

import (
	"fmt"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/register"
	"github.com/nordauth/oidcore/internal/svc"
	"github.com/nordauth/oidcore/internal/types"
)

func RegisterHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RegisterRequest
		if err := httpx.Parse(r, &req); err != nil {
			oautherr.Write(r.Context(), w, fmt.Errorf("invalid_client_metadata: %w", err))
			return
		}

		l := register.NewRegisterLogic(r.Context(), svcCtx)
		resp, err := l.Register(&req)
		if err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}
		httpx.WriteJsonCtx(r.Context(), w, http.StatusCreated, resp)
	}
}
