package jwks

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/svc"
)

type JWKSLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewJWKSLogic(ctx context.Context, svcCtx *svc.ServiceContext) *JWKSLogic {
	return &JWKSLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// JWKS serves /.well-known/jwks.json: every currently published public
// key (active plus still-valid retired ones), per C13/C1's publication
// contract.
func (l *JWKSLogic) JWKS() (map[string]interface{}, error) {
	return map[string]interface{}{
		"keys": l.svcCtx.KeyManager.AllPublicJWKs(),
	}, nil
}
