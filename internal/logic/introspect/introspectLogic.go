package introspect

import (
	"context"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	coretoken "github.com/nordauth/oidcore/internal/core/token"
	"github.com/nordauth/oidcore/internal/svc"
)

type IntrospectLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewIntrospectLogic(ctx context.Context, svcCtx *svc.ServiceContext) *IntrospectLogic {
	return &IntrospectLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Introspect implements RFC 7662 (C10a). Every failure short of a
// malformed request or a failed client authentication already comes
// back from the core Introspect call as {active: false}, per its own
// fail-closed contract.
func (l *IntrospectLogic) Introspect(r *http.Request) (*coretoken.IntrospectionResponse, error) {
	return l.svcCtx.Token.Introspect(l.ctx, r)
}
