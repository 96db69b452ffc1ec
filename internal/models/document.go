package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Document is the persisted record for one shared document.
// The Snapshot column holds the opaque CRDT full-state blob; the sync
// server reads it once on room hydration and overwrites it on save.
// Ownership and the collaborator list drive the access check for joins.
type Document struct {
	ID            string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title         string         `json:"title" gorm:"type:text;not null"`
	OwnerID       string         `json:"owner_id" gorm:"type:char(27);not null;index"`
	Collaborators pq.StringArray `json:"collaborators" gorm:"type:text[]"`
	Snapshot      []byte         `json:"-" gorm:"type:bytea"`
	CreatedAt     time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"` // Soft delete support
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}
