// Package ledger records versions and the ordered revision history of
// each one. Every mutation runs in a database transaction, so readers
// never observe a version without exactly one current revision.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"

	"apk-portal/internal/apperr"
	"apk-portal/internal/database"
	"apk-portal/internal/models"
	"apk-portal/internal/storage"
)

const commitRetries = 3

// RevisionInput describes a blob that was already written to the store
type RevisionInput struct {
	Locator     string
	Filename    string
	Size        int64
	SHA256      string
	UploadedBy  *uint
	PackageName string
	VersionName string
	VersionCode int64
}

// Ledger owns the versions and revisions tables
type Ledger struct {
	db    *gorm.DB
	store storage.Storage
	log   *slog.Logger
}

// New creates a Ledger. store is only used to remove blobs when a version
// is deleted.
func New(db *gorm.DB, store storage.Storage, log *slog.Logger) *Ledger {
	return &Ledger{
		db:    db,
		store: store,
		log:   log.With("component", "ledger"),
	}
}

// Transaction runs fn against a ledger bound to a single database
// transaction. Any error returned by fn rolls everything back.
func (l *Ledger) Transaction(ctx context.Context, fn func(tx *Ledger) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Ledger{db: tx, store: l.store, log: l.log})
	})
}

// GetOrNone returns the version of appID labelled version, or nil
func (l *Ledger) GetOrNone(ctx context.Context, appID uint, version string) (*models.Version, error) {
	var v models.Version
	err := l.db.WithContext(ctx).
		Where("application_id = ? AND version = ?", appID, version).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	return &v, nil
}

// CreateVersion inserts a version with no revisions. It returns a Conflict
// error when the pair already exists.
func (l *Ledger) CreateVersion(ctx context.Context, appID uint, version string, releaseNote string) (*models.Version, error) {
	existing, err := l.GetOrNone(ctx, appID, version)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("ledger.CreateVersion", "version already exists")
	}

	v := &models.Version{
		ApplicationID: appID,
		Version:       version,
		ReleaseNote:   strings.TrimSpace(releaseNote),
	}
	if err := l.db.WithContext(ctx).Create(v).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperr.Conflict("ledger.CreateVersion", "version already exists")
		}
		return nil, fmt.Errorf("failed to create version: %w", err)
	}
	return v, nil
}

// CommitFirstRevision records revision 1 of a fresh version and makes it
// current.
func (l *Ledger) CommitFirstRevision(ctx context.Context, v *models.Version, in RevisionInput) (*models.Revision, error) {
	var rev *models.Revision
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Revision{}).Where("version_id = ?", v.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("ledger.CommitFirstRevision", "version already has revisions")
		}

		var err error
		rev, err = insertCurrent(tx, v, 1, in)
		return err
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperr.Conflict("ledger.CommitFirstRevision", "version already has revisions")
		}
		return nil, err
	}
	return rev, nil
}

// CreateWithFirstRevision creates a version and its first revision
// atomically.
func (l *Ledger) CreateWithFirstRevision(ctx context.Context, appID uint, version string, releaseNote string, in RevisionInput) (*models.Version, *models.Revision, error) {
	var v *models.Version
	var rev *models.Revision
	err := l.Transaction(ctx, func(tx *Ledger) error {
		var err error
		if v, err = tx.CreateVersion(ctx, appID, version, releaseNote); err != nil {
			return err
		}
		rev, err = tx.CommitFirstRevision(ctx, v, in)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return v, rev, nil
}

// NextRevisionNo returns the number the next committed revision of
// versionID would get. Callers hold the version lock while using it.
func (l *Ledger) NextRevisionNo(ctx context.Context, versionID uint) (int, error) {
	return maxRevisionNo(l.db.WithContext(ctx), versionID)
}

// CommitNextRevision appends a revision numbered max+1, demotes all others
// and points the version at it. A non-nil releaseNote replaces the
// version's note. Numbering collisions are retried.
func (l *Ledger) CommitNextRevision(ctx context.Context, v *models.Version, in RevisionInput, releaseNote *string) (*models.Revision, error) {
	var rev *models.Revision
	var err error
	for attempt := 1; attempt <= commitRetries; attempt++ {
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			next, err := maxRevisionNo(tx, v.ID)
			if err != nil {
				return err
			}

			if err := tx.Model(&models.Revision{}).
				Where("version_id = ? AND is_current = ?", v.ID, true).
				Update("is_current", false).Error; err != nil {
				return err
			}

			rev, err = insertCurrent(tx, v, next, in)
			if err != nil {
				return err
			}

			if releaseNote != nil {
				note := strings.TrimSpace(*releaseNote)
				if err := tx.Model(v).Update("release_note", note).Error; err != nil {
					return err
				}
				v.ReleaseNote = note
			}
			return nil
		})
		if err == nil {
			return rev, nil
		}
		if !database.IsDuplicateKey(err) {
			return nil, err
		}
		l.log.Warn("revision number taken, retrying", "version_id", v.ID, "attempt", attempt)
	}
	return nil, apperr.Conflict("ledger.CommitNextRevision", "could not allocate a revision number")
}

// DeleteVersion removes a version, its revisions and their blobs. Blob
// removal is best effort: removed counts blobs deleted, failed counts
// blobs that were missing or could not be deleted.
func (l *Ledger) DeleteVersion(ctx context.Context, v *models.Version) (int, int, error) {
	revisions, err := l.ListRevisions(ctx, v.ID)
	if err != nil {
		return 0, 0, err
	}

	removed, failed := 0, 0
	for _, rev := range revisions {
		if err := l.store.Delete(rev.Locator); err != nil {
			failed++
			l.log.Warn("blob cleanup failed",
				"version_id", v.ID, "revision_no", rev.RevisionNo, "locator", rev.Locator, "error", err)
			continue
		}
		removed++
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(v).Update("current_revision_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("version_id = ?", v.ID).Delete(&models.Revision{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Version{}, v.ID).Error
	})
	if err != nil {
		return removed, failed, fmt.Errorf("failed to delete version: %w", err)
	}
	return removed, failed, nil
}

func maxRevisionNo(tx *gorm.DB, versionID uint) (int, error) {
	var max int
	err := tx.Model(&models.Revision{}).
		Where("version_id = ?", versionID).
		Select("COALESCE(MAX(revision_no), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read revision numbers: %w", err)
	}
	return max + 1, nil
}

func insertCurrent(tx *gorm.DB, v *models.Version, revisionNo int, in RevisionInput) (*models.Revision, error) {
	rev := &models.Revision{
		VersionID:   v.ID,
		RevisionNo:  revisionNo,
		Locator:     in.Locator,
		Filename:    in.Filename,
		Size:        in.Size,
		SHA256:      in.SHA256,
		UploadedBy:  in.UploadedBy,
		IsCurrent:   true,
		PackageName: in.PackageName,
		VersionName: in.VersionName,
		VersionCode: in.VersionCode,
	}
	if err := tx.Create(rev).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(v).Update("current_revision_id", rev.ID).Error; err != nil {
		return nil, err
	}
	v.CurrentRevisionID = &rev.ID
	return rev, nil
}
