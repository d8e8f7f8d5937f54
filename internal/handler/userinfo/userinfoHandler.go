package userinfo

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/nordauth/oidcore/internal/core/oautherr"
	"github.com/nordauth/oidcore/internal/logic/userinfo"
	"github.com/nordauth/oidcore/internal/svc"
)

func UserInfoHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l := userinfo.NewUserInfoLogic(r.Context(), svcCtx)
		result, err := l.UserInfo(r)
		if err != nil {
			oautherr.Write(r.Context(), w, err)
			return
		}

		body := make(map[string]interface{}, len(result.Claims)+1)
		for k, v := range result.Claims {
			body[k] = v
		}
		body["sub"] = result.Subject

		httpx.OkJsonCtx(r.Context(), w, body)
	}
}
