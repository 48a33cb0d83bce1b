// Package audit persists who changed what and who downloaded what. Writes
// are best effort: a failed insert is logged and never surfaces to the
// operation being recorded.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"apk-portal/internal/models"
)

// Actor types
const (
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

// Event is one audited state change
type Event struct {
	ActorType  string
	ActorID    *uint
	Action     string
	TargetType string
	TargetID   *uint
	IP         string
	UserAgent  string
}

// Download describes one served package
type Download struct {
	RevisionID    uint
	ApplicationID uint
	Version       string
	IP            string
	UserAgent     string
}

// Recorder writes audit and download rows
type Recorder struct {
	db  *gorm.DB
	log *slog.Logger
}

// NewRecorder creates a Recorder
func NewRecorder(db *gorm.DB, log *slog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With("component", "audit"),
	}
}

// Record stores an audit event
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.ActorType == "" {
		e.ActorType = ActorSystem
	}
	row := &models.AuditLog{
		ActorType:  e.ActorType,
		ActorID:    e.ActorID,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		IP:         truncate(e.IP, 100),
		UserAgent:  truncate(e.UserAgent, 255),
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		r.log.Warn("audit write failed", "action", e.Action, "target_type", e.TargetType, "error", err)
	}
}

// RecordDownload stores a download row
func (r *Recorder) RecordDownload(ctx context.Context, d Download) {
	row := &models.DownloadLog{
		RevisionID:    &d.RevisionID,
		ApplicationID: &d.ApplicationID,
		Version:       d.Version,
		IP:            truncate(d.IP, 100),
		UserAgent:     truncate(d.UserAgent, 255),
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(row).Error; err != nil {
		r.log.Warn("download log write failed", "revision_id", d.RevisionID, "error", err)
	}
}

// Recent returns the newest audit rows
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows []models.AuditLog
	err := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return rows, nil
}

// Downloads counts downloads of a revision
func (r *Recorder) Downloads(ctx context.Context, revisionID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DownloadLog{}).Where("revision_id = ?", revisionID).Count(&n).Error
	return n, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ID is a helper for building optional id fields
func ID(id uint) *uint {
	return &id
}
