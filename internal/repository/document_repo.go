package repository

import (
	"context"
	"fmt"

	"doc-collab/internal/models"

	"gorm.io/gorm"
)

// DocumentRepositoryImpl is the durable side of the sync server: it loads
// and stores the per-document snapshot blob and answers the ownership /
// collaborator questions the access gate asks. It doesn't know about any
// interface; the consuming packages declare what they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Exists reports whether the document is still present.
// Soft-deleted documents count as gone, same as a hard delete would.
func (r *DocumentRepositoryImpl) Exists(ctx context.Context, documentID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}
	return count > 0, nil
}

// HasAccess reports whether the user is the owner or a collaborator.
func (r *DocumentRepositoryImpl) HasAccess(ctx context.Context, documentID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND (owner_id = ? OR ? = ANY(collaborators))", documentID, userID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check document access: %w", err)
	}
	return count > 0, nil
}

// LoadSnapshot returns the last persisted snapshot blob for a document.
// A nil slice means no snapshot has been written yet; the caller starts
// from an empty replica in that case.
func (r *DocumentRepositoryImpl) LoadSnapshot(ctx context.Context, documentID string) ([]byte, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).
		Select("id", "snapshot").
		First(&doc, "id = ?", documentID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return doc.Snapshot, nil
}

// SaveSnapshot overwrites the persisted snapshot blob for a document.
func (r *DocumentRepositoryImpl) SaveSnapshot(ctx context.Context, documentID string, snapshot []byte) error {
	result := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Update("snapshot", snapshot)

	if result.Error != nil {
		return fmt.Errorf("failed to save snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("document not found: %s", documentID)
	}

	return nil
}
