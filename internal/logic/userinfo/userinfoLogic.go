package userinfo

import (
	"context"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	coreuserinfo "github.com/nordauth/oidcore/internal/core/userinfo"
	"github.com/nordauth/oidcore/internal/svc"
)

type UserInfoLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewUserInfoLogic(ctx context.Context, svcCtx *svc.ServiceContext) *UserInfoLogic {
	return &UserInfoLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// UserInfo implements the UserInfo Endpoint (C11a/core §5.3), accepting
// either a bare Bearer token or a DPoP-bound one.
func (l *UserInfoLogic) UserInfo(r *http.Request) (*coreuserinfo.Result, error) {
	return l.svcCtx.UserInfo.Handle(l.ctx, r, l.svcCtx.DPoPNonces)
}
