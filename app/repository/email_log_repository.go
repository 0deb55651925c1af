package repository

import (
	"time"

	"github.com/mindreaderbio/platform/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type emailLogRepository struct {
	db *gorm.DB
}

// NewEmailLogRepository creates a new email log repository instance
func NewEmailLogRepository(db *gorm.DB) EmailLogRepository {
	return &emailLogRepository{db: db}
}

// CreateIfNotExists inserts the entry unless a row for the same
// (user_id, type, reference) already exists. It reports whether a row was written.
func (r *emailLogRepository) CreateIfNotExists(entry *models.EmailLog) (bool, error) {
	return createEmailIfNotExists(r.db, entry)
}

func createEmailIfNotExists(db *gorm.DB, entry *models.EmailLog) (bool, error) {
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "type"},
			{Name: "reference"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkSent flips a QUEUED entry to SENT. Entries already SENT are left alone.
func (r *emailLogRepository) MarkSent(id uint, at time.Time) error {
	return r.db.Model(&models.EmailLog{}).
		Where("id = ? AND status = ?", id, models.EmailStatusQueued).
		Updates(map[string]interface{}{
			"status":  models.EmailStatusSent,
			"sent_at": at.UTC(),
		}).Error
}

// ListByUserID returns the newest entries for a user
func (r *emailLogRepository) ListByUserID(userID uint, limit int) ([]models.EmailLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []models.EmailLog
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
