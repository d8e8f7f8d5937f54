package revoke

import (
	"context"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/svc"
)

type RevokeLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewRevokeLogic(ctx context.Context, svcCtx *svc.ServiceContext) *RevokeLogic {
	return &RevokeLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Revoke implements RFC 7009 (C10b).
func (l *RevokeLogic) Revoke(r *http.Request) error {
	return l.svcCtx.Token.Revoke(l.ctx, r)
}
