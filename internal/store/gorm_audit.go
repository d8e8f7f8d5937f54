package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nordauth/oidcore/internal/oidctypes"
)

// auditRow is the GORM model for a persisted audit entry, grounded on
// gourdiantoken.repository.gorm.imp.go's RevokedTokenType/RotatedTokenType
// pattern of a narrow, indexed table with a TableName override rather
// than GORM's default pluralized name.
type auditRow struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp     time.Time `gorm:"index:idx_audit_timestamp;not null"`
	TenantID      string    `gorm:"index:idx_audit_tenant;type:varchar(64)"`
	Actor         string    `gorm:"type:varchar(255)"`
	Event         string    `gorm:"index:idx_audit_event;type:varchar(64);not null"`
	Resource      string    `gorm:"type:varchar(255)"`
	Outcome       string    `gorm:"type:varchar(32)"`
	Details       string    `gorm:"type:text"`
	CorrelationID string    `gorm:"index:idx_audit_correlation;type:varchar(64)"`
}

func (auditRow) TableName() string { return "audit_entries" }

// AuditGormBackend is the Postgres-backed audit.Backend, chosen over the
// sqlx idiom used for the Client Registry because the audit table is a
// single append-only schema with no hand-tuned queries, the exact case
// the teacher's own gorm.io/gorm dependency already covers.
type AuditGormBackend struct {
	db *gorm.DB
}

// NewAuditGormBackend wires an already-migrated *gorm.DB.
func NewAuditGormBackend(db *gorm.DB) *AuditGormBackend {
	return &AuditGormBackend{db: db}
}

// Migrate creates the audit_entries table if it does not already exist.
func (b *AuditGormBackend) Migrate() error {
	return b.db.AutoMigrate(&auditRow{})
}

// Save implements audit.Backend via a single batch Create, mirroring
// the teacher's upsert-in-one-round-trip preference for bulk writes.
func (b *AuditGormBackend) Save(ctx context.Context, entries []oidctypes.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("store: encode audit details: %w", err)
		}
		rows = append(rows, auditRow{
			Timestamp:     e.Timestamp,
			TenantID:      e.TenantID,
			Actor:         e.Actor,
			Event:         e.Event,
			Resource:      e.Resource,
			Outcome:       e.Outcome,
			Details:       string(details),
			CorrelationID: e.CorrelationID,
		})
	}
	if err := b.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("store: save audit entries: %w", err)
	}
	return nil
}
