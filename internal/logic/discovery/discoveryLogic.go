package discovery

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/oidctypes"
	"github.com/nordauth/oidcore/internal/svc"
)

type DiscoveryLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewDiscoveryLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DiscoveryLogic {
	return &DiscoveryLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Discovery serves /.well-known/openid-configuration (C13).
func (l *DiscoveryLogic) Discovery() (*oidctypes.DiscoveryView, error) {
	view := l.svcCtx.Discovery.View()
	return &view, nil
}
