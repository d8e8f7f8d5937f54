package token

import (
	"context"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	coretoken "github.com/nordauth/oidcore/internal/core/token"
	"github.com/nordauth/oidcore/internal/svc"
)

type TokenLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewTokenLogic(ctx context.Context, svcCtx *svc.ServiceContext) *TokenLogic {
	return &TokenLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Token dispatches C10's authorization_code and refresh_token grants.
func (l *TokenLogic) Token(r *http.Request) (*coretoken.TokenResponse, error) {
	return l.svcCtx.Token.Handle(l.ctx, r)
}
