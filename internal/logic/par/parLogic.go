package par

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/svc"
)

type ParLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewParLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ParLogic {
	return &ParLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// PARResult is the decoded success body for RFC 9126's Pushed
// Authorization Request endpoint (C7).
type PARResult struct {
	RequestURI string
	ExpiresIn  int64
}

// requestURILifetimeSeconds mirrors the PAR backend's own TTL (see
// internal/store's ParRedisBackend), surfaced here since Store.Put
// doesn't hand the caller an expiry back.
const requestURILifetimeSeconds = 600

// Par authenticates the pushing client and stores its parameter bundle
// (RFC 9126 §2).
func (l *ParLogic) Par(r *http.Request) (*PARResult, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid_request: %w", err)
	}

	current := l.svcCtx.Profiles.Current()
	outcome, err := l.svcCtx.Clients.Authenticate(l.ctx, r, current.TokenEndpointAuthMethods)
	if err != nil {
		return nil, fmt.Errorf("invalid_client: %w", err)
	}

	params := make(map[string]string, len(r.Form))
	for key := range r.Form {
		params[key] = r.Form.Get(key)
	}

	uri, err := l.svcCtx.PAR.Put(outcome.Client.ClientID, params)
	if err != nil {
		return nil, fmt.Errorf("server_error: %w", err)
	}

	return &PARResult{RequestURI: uri, ExpiresIn: requestURILifetimeSeconds}, nil
}
