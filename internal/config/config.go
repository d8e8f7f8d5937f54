// Package config is the provider's go-zero Config, loaded once in
// cmd/oidcore via conf.MustLoad. Shaped after
// shared/config/config.go: rest.RestConf embedded, one block per
// storage backend, with MeiliSearch dropped (this service has no
// full-text search surface) and Auth replaced by Keys/Profile/Session,
// the blocks an authorization core actually needs.
package config

import (
	"github.com/zeromicro/go-zero/rest"

	"github.com/nordauth/oidcore/third_party/cache"
	"github.com/nordauth/oidcore/third_party/database"
)

// Config is the root configuration loaded from etc/oidcore.yaml.
type Config struct {
	rest.RestConf
	Database database.PostgresConfig
	Redis    cache.RedisConfig
	Mongo    MongoConfig
	Keys     KeysConfig
	Profile  ProfileConfig
	Session  SessionConfig
	Issuer   string `json:",env=OIDCORE_ISSUER"`
	Audit    AuditConfig
}

// MongoConfig backs the RefreshTokenRotator's TokenFamily store.
type MongoConfig struct {
	URI      string `json:",env=OIDCORE_MONGO_URI"`
	Database string `json:",env=OIDCORE_MONGO_DATABASE"`
}

// KeysConfig mirrors internal/core/keymanager.Config, expressed the way
// the teacher expresses duration-bearing settings (plain integer
// hours, per shared/config.AuthConfig's AccessExpire/RefreshExpire),
// converted to time.Duration when wiring the Manager in internal/svc.
type KeysConfig struct {
	Algorithm             string `json:",default=RS256"`
	RotationIntervalHours int64  `json:",default=2160"` // 90 days
	RetentionWindowHours  int64  `json:",default=720"`  // 30 days
}

// ProfileConfig selects the SettingsProfile this deployment boots into;
// internal/core/profile.Lookup resolves the name.
type ProfileConfig struct {
	Name string `json:",default=basic-op"`
}

// SessionConfig configures internal/core/session.CookieResolver.
type SessionConfig struct {
	CookieSecret   string `json:",env=OIDCORE_SESSION_SECRET"`
	LifetimeHours  int64  `json:",default=12"`
}

// AuditConfig selects whether the Audit Sink writes to the local GORM
// backend or forwards batches to an out-of-process sink over gRPC.
type AuditConfig struct {
	ForwardRPC string `json:",optional"` // host:port of a remote Forwarder; empty means local GORM
}
