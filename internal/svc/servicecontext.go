// Package svc wires every storage backend and core component into one
// long-lived ServiceContext, mirroring
// services/gateway/growth/internal/svc/serviceContext.go's role: built
// once in main, handed to every Logic constructor, never rebuilt per
// request.
package svc

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nordauth/oidcore/internal/config"
	"github.com/nordauth/oidcore/internal/core/audit"
	"github.com/nordauth/oidcore/internal/core/authorize"
	"github.com/nordauth/oidcore/internal/core/clients"
	"github.com/nordauth/oidcore/internal/core/codec"
	"github.com/nordauth/oidcore/internal/core/codestore"
	"github.com/nordauth/oidcore/internal/core/discovery"
	"github.com/nordauth/oidcore/internal/core/keymanager"
	"github.com/nordauth/oidcore/internal/core/par"
	"github.com/nordauth/oidcore/internal/core/profile"
	"github.com/nordauth/oidcore/internal/core/rotator"
	"github.com/nordauth/oidcore/internal/core/session"
	"github.com/nordauth/oidcore/internal/core/token"
	"github.com/nordauth/oidcore/internal/core/userinfo"
	"github.com/nordauth/oidcore/internal/oidctypes"
	"github.com/nordauth/oidcore/internal/rpcaudit"
	"github.com/nordauth/oidcore/internal/store"
	thirdcache "github.com/nordauth/oidcore/third_party/cache"
	thirddatabase "github.com/nordauth/oidcore/third_party/database"
	thirdmongo "github.com/nordauth/oidcore/third_party/mongo"
)

const shardCount = 32

// ServiceContext bundles the provider's full dependency graph.
type ServiceContext struct {
	Config config.Config

	KeyManager  *keymanager.Manager
	Codec       *codec.Codec
	Clients     *clients.Registry
	ClientStore *store.ClientStore
	Profiles   *profile.Engine
	PAR        *par.Store
	Codes      *codestore.Store
	Rotator    *rotator.Rotator
	Sessions   *session.CookieResolver
	KeyResolver *clients.JWKSKeyResolver
	Revocation *store.RevocationRedisBackend
	DPoPNonces *store.RedisBackends

	Authorize *authorize.Endpoint
	Token     *token.Endpoint
	UserInfo  *userinfo.Verifier
	Discovery *discovery.Publisher
	Audit     *audit.Sink
}

// NewServiceContext connects every storage backend and wires every
// component, following services/gateway/growth/internal/svc's
// single-constructor-does-everything shape.
func NewServiceContext(c config.Config) *ServiceContext {
	pg, err := thirddatabase.NewPostgresConnection(c.Database)
	if err != nil {
		panic(err)
	}
	redisWrapper, err := thirdcache.NewRedisConnection(c.Redis)
	if err != nil {
		panic(err)
	}
	mongoDB, err := thirdmongo.NewConnection(thirdmongo.Config{URI: c.Mongo.URI, Database: c.Mongo.Database})
	if err != nil {
		panic(err)
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: pg.DB}), &gorm.Config{})
	if err != nil {
		panic(err)
	}

	redisBackends := store.NewRedisBackends(redisWrapper.GetClient())
	revocation := store.NewRevocationRedisBackend(redisBackends)

	profileCfg, ok := profile.Lookup(c.Profile.Name)
	if !ok {
		profileCfg = profile.BasicOP
	}
	profiles := profile.NewEngine(profileCfg)

	keyManager, err := keymanager.New(keymanager.Config{
		Algorithm:        c.Keys.Algorithm,
		RotationInterval: time.Duration(c.Keys.RotationIntervalHours) * time.Hour,
		RetentionWindow:  time.Duration(c.Keys.RetentionWindowHours) * time.Hour,
	}, store.NewKeyStore(pg))
	if err != nil {
		panic(err)
	}
	jwtCodec := codec.New(c.Issuer, keyManager, false)

	clientStore := store.NewClientStore(pg)
	clientRegistry := clients.New(clientStore, redisBackends, tokenEndpointURL(c))

	parStore := par.New(store.NewParRedisBackend(redisBackends), shardCount)
	codeStore := codestore.New(store.NewCodeRedisBackend(redisBackends), shardCount, nil)

	rotatorBackend, err := store.NewRotatorMongoBackend(context.Background(), mongoDB)
	if err != nil {
		panic(err)
	}

	auditSink := newAuditSink(c, gormDB)
	tokenRotator := rotator.New(rotatorBackend, shardCount, auditFunc(auditSink))

	sessionLifetime := time.Duration(c.Session.LifetimeHours) * time.Hour
	sessions := session.NewCookieResolver([]byte(c.Session.CookieSecret), c.Issuer, sessionLifetime)
	keyResolver := clients.NewJWKSKeyResolver(nil)

	authorizeEndpoint := authorize.New(authorize.Deps{
		Clients:     clientRegistry,
		PAR:         parStore,
		Codes:       codeStore,
		Profiles:    profiles,
		KeyResolver: keyResolver,
		Sessions:    sessions,
		DPoPNonces:  redisBackends,
		Issuer:      c.Issuer,
	})

	tokenEndpoint := token.New(token.Deps{
		Clients:      clientRegistry,
		Codes:        codeStore,
		Codec:        jwtCodec,
		Profiles:     profiles,
		Rotator:      tokenRotator,
		Revocation:   revocation,
		Intro:        rotatorIntrospection{tokenRotator},
		DPoPNonces:   redisBackends,
		Issuer:       c.Issuer,
		PairwiseSalt: c.Session.CookieSecret,
	})

	userInfoVerifier := userinfo.New(jwtCodec, c.Issuer, revocation, store.NewUserClaimsStore(pg))

	discoveryPublisher := discovery.New(discovery.Endpoints{
		Issuer:                c.Issuer,
		AuthorizationEndpoint: c.Issuer + "/authorize",
		TokenEndpoint:         c.Issuer + "/token",
		UserinfoEndpoint:      c.Issuer + "/userinfo",
		JWKSURI:               c.Issuer + "/.well-known/jwks.json",
		PAREndpoint:           c.Issuer + "/as/par",
		IntrospectionEndpoint: c.Issuer + "/introspect",
		RevocationEndpoint:    c.Issuer + "/revoke",
		RegistrationEndpoint:  c.Issuer + "/register",
	}, profiles)

	return &ServiceContext{
		Config:      c,
		KeyManager:  keyManager,
		Codec:       jwtCodec,
		Clients:     clientRegistry,
		ClientStore: clientStore,
		Profiles:    profiles,
		PAR:         parStore,
		Codes:       codeStore,
		Rotator:     tokenRotator,
		Sessions:    sessions,
		KeyResolver: keyResolver,
		Revocation:  revocation,
		DPoPNonces:  redisBackends,
		Authorize:   authorizeEndpoint,
		Token:       tokenEndpoint,
		UserInfo:    userInfoVerifier,
		Discovery:   discoveryPublisher,
		Audit:       auditSink,
	}
}

// newAuditSink points the Audit Sink at either the local GORM backend or
// a remote Forwarder, per Config.Audit.ForwardRPC, with no change to
// how internal/core/audit.Sink itself is constructed either way.
func newAuditSink(c config.Config, gormDB *gorm.DB) *audit.Sink {
	if c.Audit.ForwardRPC == "" {
		backend := store.NewAuditGormBackend(gormDB)
		if err := backend.Migrate(); err != nil {
			panic(err)
		}
		return audit.New(backend)
	}

	cc, err := grpc.NewClient(c.Audit.ForwardRPC, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		panic(err)
	}
	return audit.New(rpcaudit.NewForwarderClient(cc))
}

// auditFunc adapts the Audit Sink's Record method to the Rotator's
// AuditFunc signature for theft_detected/family_revoked events, which
// must be durable before Rotate returns.
func auditFunc(sink *audit.Sink) rotator.AuditFunc {
	return func(event string, family *oidctypes.TokenFamily, details map[string]interface{}) {
		entry := oidctypes.AuditEntry{
			Timestamp: time.Now(),
			Actor:     family.UserID,
			Event:     event,
			Resource:  family.ClientID,
			Outcome:   "rotated",
			Details:   details,
		}
		if event == "theft_detected" || event == "family_revoked" {
			entry.Outcome = "revoked"
		}
		if err := sink.Record(context.Background(), entry); err != nil {
			logx.Errorf("svc: record rotator audit event %s: %v", event, err)
		}
	}
}

func tokenEndpointURL(c config.Config) string {
	return c.Issuer + "/token"
}

// rotatorIntrospection adapts *rotator.Rotator's Validate to the Token
// Endpoint's IntrospectionTarget, reordering arguments to the
// clientID-then-userID convention token.Deps expects.
type rotatorIntrospection struct {
	r *rotator.Rotator
}

func (a rotatorIntrospection) FamilyValid(_ context.Context, clientID, userID string, version int64) (bool, error) {
	validation, err := a.r.Validate(userID, clientID, version)
	if err != nil {
		return false, err
	}
	return validation.Valid, nil
}
