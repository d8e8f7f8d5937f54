package register

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/oidctypes"
	"github.com/nordauth/oidcore/internal/svc"
	"github.com/nordauth/oidcore/internal/types"
)

type RegisterLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewRegisterLogic(ctx context.Context, svcCtx *svc.ServiceContext) *RegisterLogic {
	return &RegisterLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// Register implements RFC 7591 dynamic client registration (C5a): it
// mints a client_id, hashes a fresh secret for every auth method that
// needs one, and persists the record through the same ClientStore the
// Client Registry (C5) reads from.
func (l *RegisterLogic) Register(req *types.RegisterRequest) (*types.RegisterResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, fmt.Errorf("invalid_request: redirect_uris is required")
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}
	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	subjectType := req.SubjectType
	if subjectType == "" {
		subjectType = "public"
	}
	applicationType := req.ApplicationType
	if applicationType == "" {
		applicationType = "web"
	}
	scope := strings.Fields(req.Scope)
	if len(scope) == 0 {
		scope = []string{"openid"}
	}

	rec := &oidctypes.ClientRecord{
		ClientID:                "c_" + uuid.NewString(),
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   scope,
		TokenEndpointAuthMethod: authMethod,
		JWKSURI:                 req.JWKSURI,
		SubjectType:             subjectType,
		SectorIdentifierURI:     req.SectorIdentifierURI,
		ApplicationType:         applicationType,
		RequirePKCE:             true,
		AllowedSigningAlgs:      []string{"RS256"},
		AllowOfflineAccess:      containsString(grantTypes, "refresh_token"),
	}

	var plaintextSecret string
	if authMethod != "private_key_jwt" && authMethod != "none" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("server_error: %w", err)
		}
		hash, err := clients.HashSecret(secret)
		if err != nil {
			return nil, fmt.Errorf("server_error: %w", err)
		}
		rec.ClientSecretHash = hash
		plaintextSecret = secret
	}

	if err := l.svcCtx.ClientStore.Insert(l.ctx, rec); err != nil {
		return nil, fmt.Errorf("server_error: %w", err)
	}

	return &types.RegisterResponse{
		ClientID:                rec.ClientID,
		ClientSecret:            plaintextSecret,
		RedirectURIs:            rec.RedirectURIs,
		GrantTypes:              rec.GrantTypes,
		ResponseTypes:           rec.ResponseTypes,
		Scope:                   strings.Join(rec.Scope, " "),
		TokenEndpointAuthMethod: rec.TokenEndpointAuthMethod,
		SubjectType:             rec.SubjectType,
		ApplicationType:         rec.ApplicationType,
	}, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
