package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

const tokenFamilyCollectionName = "refresh_token_families"

// tokenFamilyDocument is the BSON projection of oidctypes.TokenFamily,
// keyed on the composite (client_id, user_id) identity of a refresh
// token lineage.
type tokenFamilyDocument struct {
	ClientID      string    `bson:"client_id"`
	UserID        string    `bson:"user_id"`
	Version       int64     `bson:"version"`
	LastJTI       string    `bson:"last_jti"`
	LastUsedAt    time.Time `bson:"last_used_at"`
	ExpiresAt     time.Time `bson:"expires_at"`
	AllowedScope  []string  `bson:"allowed_scope"`
	Revoked       bool      `bson:"revoked"`
	RevokedReason string    `bson:"revoked_reason,omitempty"`
}

// RotatorMongoBackend is the MongoDB-backed rotator.Backend, grounded on
// gourdiantoken.repository.mongo.imp.go's ReplaceOne-with-upsert idiom,
// generalized from a flat token_hash keyspace to one document per
// refresh token family so Get/Save can carry the whole lineage (version,
// last jti, allowed scope) rather than a single boolean flag.
type RotatorMongoBackend struct {
	collection *mongo.Collection
}

// NewRotatorMongoBackend wires a collection in the given database and
// ensures the composite unique index the rotator's compare-and-swap
// semantics depend on.
func NewRotatorMongoBackend(ctx context.Context, db *mongo.Database) (*RotatorMongoBackend, error) {
	collection := db.Collection(tokenFamilyCollectionName)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("store: create token family index: %w", err)
	}
	return &RotatorMongoBackend{collection: collection}, nil
}

// Get implements rotator.Backend.
func (b *RotatorMongoBackend) Get(clientID, userID string) (*oidctypes.TokenFamily, error) {
	ctx := context.Background()
	filter := bson.M{"client_id": clientID, "user_id": userID}

	var doc tokenFamilyDocument
	err := b.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get token family: %w", err)
	}
	return &oidctypes.TokenFamily{
		ClientID:      doc.ClientID,
		UserID:        doc.UserID,
		Version:       doc.Version,
		LastJTI:       doc.LastJTI,
		LastUsedAt:    doc.LastUsedAt,
		ExpiresAt:     doc.ExpiresAt,
		AllowedScope:  doc.AllowedScope,
		Revoked:       doc.Revoked,
		RevokedReason: doc.RevokedReason,
	}, nil
}

// Save implements rotator.Backend via ReplaceOne-with-upsert, the same
// atomic create-or-update the teacher's MarkTokenRevoke uses; the
// rotator's own per-key mailbox (internal/core/shard) is what serializes
// concurrent Get+Save pairs, so no optimistic-concurrency filter is
// needed here.
func (b *RotatorMongoBackend) Save(f *oidctypes.TokenFamily) error {
	ctx := context.Background()
	filter := bson.M{"client_id": f.ClientID, "user_id": f.UserID}
	doc := tokenFamilyDocument{
		ClientID:      f.ClientID,
		UserID:        f.UserID,
		Version:       f.Version,
		LastJTI:       f.LastJTI,
		LastUsedAt:    f.LastUsedAt,
		ExpiresAt:     f.ExpiresAt,
		AllowedScope:  f.AllowedScope,
		Revoked:       f.Revoked,
		RevokedReason: f.RevokedReason,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := b.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("store: save token family: %w", err)
	}
	return nil
}
