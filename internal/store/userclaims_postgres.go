package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zeromicro/go-zero/core/logx"
)

// UserClaimsStore is the Postgres-backed implementation of
// internal/core/userinfo.ClaimsSource, grounded on clients_postgres.go's
// single-table, JSON-column convention. It is deliberately minimal: no
// profile-editing surface, no admin console, just the read path the
// UserInfo Verifier needs to project a subject's claims.
type UserClaimsStore struct {
	db *sqlx.DB
}

// NewUserClaimsStore wraps an already-connected sqlx.DB.
func NewUserClaimsStore(db *sqlx.DB) *UserClaimsStore {
	return &UserClaimsStore{db: db}
}

const selectUserClaimsQuery = `SELECT claims FROM user_claims WHERE sub = $1`

// ClaimsFor implements userinfo.ClaimsSource. A subject with no row
// (never issued a profile, or never provisioned) projects to an empty
// claim set rather than an error: UserInfo still returns {sub: ...}.
func (s *UserClaimsStore) ClaimsFor(ctx context.Context, sub string, scope []string) (map[string]interface{}, error) {
	var raw []byte
	if err := s.db.GetContext(ctx, &raw, selectUserClaimsQuery, sub); err != nil {
		if err == sql.ErrNoRows {
			return map[string]interface{}{}, nil
		}
		logx.WithContext(ctx).Errorf("store: load user claims for %s: %v", sub, err)
		return nil, fmt.Errorf("store: get user claims: %w", err)
	}
	claims := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &claims); err != nil {
			return nil, fmt.Errorf("store: decode user claims: %w", err)
		}
	}
	return claims, nil
}
