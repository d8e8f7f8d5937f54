package revoke

import (
	"net/http"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/revoke"
	"github.com/nordauth/oidcore/internal/svc"
)

func RevokeHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := revoke.NewRevokeLogic(r.Context(), svcCtx)
		if err := l.Revoke(r); err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
