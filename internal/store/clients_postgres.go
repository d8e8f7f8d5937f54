// Package store holds the durable Backend implementations that the
// core components (internal/core/...) depend on only through small
// interfaces. Each adapter here is grounded on a specific teacher or
// pack file; see DESIGN.md for the per-adapter mapping.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// clientRow is the sqlx scan target for the clients table; JWKS and the
// string-slice columns are stored as JSON text, matching the teacher's
// convention of keeping nested structures as JSON columns rather than
// introducing join tables for small, rarely-queried collections.
type clientRow struct {
	ClientID                string         `db:"client_id"`
	ClientSecretHash        sql.NullString `db:"client_secret_hash"`
	RedirectURIs            string         `db:"redirect_uris"`
	GrantTypes              string         `db:"grant_types"`
	ResponseTypes           string         `db:"response_types"`
	Scope                   string         `db:"scope"`
	TokenEndpointAuthMethod string         `db:"token_endpoint_auth_method"`
	JWKS                    sql.NullString `db:"jwks"`
	JWKSURI                 sql.NullString `db:"jwks_uri"`
	SubjectType             string         `db:"subject_type"`
	SectorIdentifierURI     sql.NullString `db:"sector_identifier_uri"`
	ApplicationType         string         `db:"application_type"`
	RequirePKCE             bool           `db:"require_pkce"`
	AllowedSigningAlgs      string         `db:"allowed_signing_algs"`
	AllowOfflineAccess      bool           `db:"allow_offline_access"`
}

// ClientStore is the Postgres-backed implementation of
// internal/core/clients.Store, grounded on shared/repository.BaseRepository's
// GetContext/NamedExecContext idiom.
type ClientStore struct {
	db *sqlx.DB
}

// NewClientStore wraps an already-connected sqlx.DB (see
// third_party/database.NewPostgresConnection).
func NewClientStore(db *sqlx.DB) *ClientStore {
	return &ClientStore{db: db}
}

const selectClientByIDQuery = `
	SELECT client_id, client_secret_hash, redirect_uris, grant_types, response_types,
	       scope, token_endpoint_auth_method, jwks, jwks_uri, subject_type,
	       sector_identifier_uri, application_type, require_pkce, allowed_signing_algs,
	       allow_offline_access
	FROM oauth_clients WHERE client_id = $1`

// GetClient implements clients.Store.
func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*oidctypes.ClientRecord, error) {
	var row clientRow
	if err := s.db.GetContext(ctx, &row, selectClientByIDQuery, clientID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logx.WithContext(ctx).Errorf("store: load client %s: %v", clientID, err)
		return nil, fmt.Errorf("store: get client: %w", err)
	}
	return rowToClientRecord(row)
}

// Insert persists a newly registered client (RFC 7591 dynamic client
// registration, C5a).
func (s *ClientStore) Insert(ctx context.Context, rec *oidctypes.ClientRecord) error {
	row, err := clientRecordToRow(rec)
	if err != nil {
		return err
	}
	const insertQuery = `
		INSERT INTO oauth_clients (
			client_id, client_secret_hash, redirect_uris, grant_types, response_types,
			scope, token_endpoint_auth_method, jwks, jwks_uri, subject_type,
			sector_identifier_uri, application_type, require_pkce, allowed_signing_algs,
			allow_offline_access
		) VALUES (
			:client_id, :client_secret_hash, :redirect_uris, :grant_types, :response_types,
			:scope, :token_endpoint_auth_method, :jwks, :jwks_uri, :subject_type,
			:sector_identifier_uri, :application_type, :require_pkce, :allowed_signing_algs,
			:allow_offline_access
		)`
	if _, err := s.db.NamedExecContext(ctx, insertQuery, row); err != nil {
		logx.WithContext(ctx).Errorf("store: insert client %s: %v", rec.ClientID, err)
		return fmt.Errorf("store: insert client: %w", err)
	}
	return nil
}

func rowToClientRecord(row clientRow) (*oidctypes.ClientRecord, error) {
	rec := &oidctypes.ClientRecord{
		ClientID:                row.ClientID,
		ClientSecretHash:        row.ClientSecretHash.String,
		TokenEndpointAuthMethod: row.TokenEndpointAuthMethod,
		JWKSURI:                 row.JWKSURI.String,
		SubjectType:             row.SubjectType,
		SectorIdentifierURI:     row.SectorIdentifierURI.String,
		ApplicationType:         row.ApplicationType,
		RequirePKCE:             row.RequirePKCE,
		AllowOfflineAccess:      row.AllowOfflineAccess,
	}
	for _, pair := range []struct {
		src string
		dst *[]string
	}{
		{row.RedirectURIs, &rec.RedirectURIs},
		{row.GrantTypes, &rec.GrantTypes},
		{row.ResponseTypes, &rec.ResponseTypes},
		{row.Scope, &rec.Scope},
		{row.AllowedSigningAlgs, &rec.AllowedSigningAlgs},
	} {
		if pair.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.src), pair.dst); err != nil {
			return nil, fmt.Errorf("store: decode client column: %w", err)
		}
	}
	if row.JWKS.Valid && row.JWKS.String != "" {
		if err := json.Unmarshal([]byte(row.JWKS.String), &rec.JWKS); err != nil {
			return nil, fmt.Errorf("store: decode client jwks: %w", err)
		}
	}
	return rec, nil
}

func clientRecordToRow(rec *oidctypes.ClientRecord) (map[string]interface{}, error) {
	marshal := func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("store: encode client column: %w", err)
		}
		return string(b), nil
	}
	redirectURIs, err := marshal(rec.RedirectURIs)
	if err != nil {
		return nil, err
	}
	grantTypes, err := marshal(rec.GrantTypes)
	if err != nil {
		return nil, err
	}
	responseTypes, err := marshal(rec.ResponseTypes)
	if err != nil {
		return nil, err
	}
	scope, err := marshal(rec.Scope)
	if err != nil {
		return nil, err
	}
	algs, err := marshal(rec.AllowedSigningAlgs)
	if err != nil {
		return nil, err
	}
	jwks, err := marshal(rec.JWKS)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"client_id":                  rec.ClientID,
		"client_secret_hash":         rec.ClientSecretHash,
		"redirect_uris":              redirectURIs,
		"grant_types":                grantTypes,
		"response_types":             responseTypes,
		"scope":                      scope,
		"token_endpoint_auth_method": rec.TokenEndpointAuthMethod,
		"jwks":                       jwks,
		"jwks_uri":                   rec.JWKSURI,
		"subject_type":               rec.SubjectType,
		"sector_identifier_uri":      rec.SectorIdentifierURI,
		"application_type":           rec.ApplicationType,
		"require_pkce":               rec.RequirePKCE,
		"allowed_signing_algs":       algs,
		"allow_offline_access":       rec.AllowOfflineAccess,
	}, nil
}
