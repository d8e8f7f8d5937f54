package store

import (
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// keyRow is the sqlx scan target for the signing_keys table. Private
// material is stored as a PKCS#8 DER blob so the same column works for
// every algorithm family the KeyManager generates (RSA, ECDSA, Ed25519),
// mirroring clients_postgres.go's one-column-per-nested-structure
// convention rather than a column per key type.
type keyRow struct {
	Kid             string       `db:"kid"`
	Alg             string       `db:"alg"`
	PrivateKeyDER   []byte       `db:"private_key_der"`
	PublicJWK       string       `db:"public_jwk"`
	CreatedAt       time.Time    `db:"created_at"`
	Active          bool         `db:"active"`
	RetiredAt       sql.NullTime `db:"retired_at"`
}

// KeyStore is the Postgres-backed implementation of
// internal/core/keymanager.Store.
type KeyStore struct {
	db *sqlx.DB
}

// NewKeyStore wraps an already-connected sqlx.DB.
func NewKeyStore(db *sqlx.DB) *KeyStore {
	return &KeyStore{db: db}
}

const upsertKeyQuery = `
	INSERT INTO signing_keys (kid, alg, private_key_der, public_jwk, created_at, active, retired_at)
	VALUES (:kid, :alg, :private_key_der, :public_jwk, :created_at, :active, :retired_at)
	ON CONFLICT (kid) DO UPDATE SET
		active = EXCLUDED.active,
		retired_at = EXCLUDED.retired_at`

// SaveKey implements keymanager.Store. It upserts so a rotation's
// "retire the previous active key" write is a single round trip per key.
func (s *KeyStore) SaveKey(k *oidctypes.SigningKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(k.PrivateMaterial)
	if err != nil {
		return fmt.Errorf("store: marshal signing key %s: %w", k.Kid, err)
	}
	jwk, err := json.Marshal(k.PublicJWK)
	if err != nil {
		return fmt.Errorf("store: marshal public jwk for %s: %w", k.Kid, err)
	}
	row := keyRow{
		Kid:           k.Kid,
		Alg:           k.Alg,
		PrivateKeyDER: der,
		PublicJWK:     string(jwk),
		CreatedAt:     k.CreatedAt,
		Active:        k.Active,
	}
	if k.RetiredAt != nil {
		row.RetiredAt = sql.NullTime{Time: *k.RetiredAt, Valid: true}
	}
	if _, err := s.db.NamedExec(upsertKeyQuery, row); err != nil {
		return fmt.Errorf("store: save signing key %s: %w", k.Kid, err)
	}
	return nil
}

const selectAllKeysQuery = `
	SELECT kid, alg, private_key_der, public_jwk, created_at, active, retired_at
	FROM signing_keys`

// LoadAll implements keymanager.Store, reconstructing every persisted
// key so a restarted process resumes with the same active key and
// retention set instead of minting a fresh one.
func (s *KeyStore) LoadAll() ([]*oidctypes.SigningKey, error) {
	var rows []keyRow
	if err := s.db.Select(&rows, selectAllKeysQuery); err != nil {
		logx.Errorf("store: load signing keys: %v", err)
		return nil, fmt.Errorf("store: load signing keys: %w", err)
	}

	keys := make([]*oidctypes.SigningKey, 0, len(rows))
	for _, row := range rows {
		private, err := x509.ParsePKCS8PrivateKey(row.PrivateKeyDER)
		if err != nil {
			return nil, fmt.Errorf("store: parse signing key %s: %w", row.Kid, err)
		}
		var jwk map[string]interface{}
		if err := json.Unmarshal([]byte(row.PublicJWK), &jwk); err != nil {
			return nil, fmt.Errorf("store: decode public jwk for %s: %w", row.Kid, err)
		}
		k := &oidctypes.SigningKey{
			Kid:             row.Kid,
			Alg:             row.Alg,
			PrivateMaterial: private,
			PublicJWK:       jwk,
			CreatedAt:       row.CreatedAt,
			Active:          row.Active,
		}
		if row.RetiredAt.Valid {
			t := row.RetiredAt.Time
			k.RetiredAt = &t
		}
		keys = append(keys, k)
	}
	return keys, nil
}
