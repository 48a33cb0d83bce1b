package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
)

// VersionSummary is a version joined with its application and its current
// revision, as listed on the admin and public pages.
type VersionSummary struct {
	models.Version
	ApplicationName string           `json:"application_name"`
	ApplicationSlug string           `json:"application_slug"`
	Current         *models.Revision `json:"current_revision,omitempty"`
	RevisionCount   int64            `json:"revision_count"`
}

// Stats are the dashboard counters
type Stats struct {
	Applications int64 `json:"app_type_count"`
	Versions     int64 `json:"version_count"`
	Revisions    int64 `json:"revision_count"`
	Downloads    int64 `json:"download_count"`
	Notices      int64 `json:"notice_count"`
}

// GetVersion returns a version by id
func (l *Ledger) GetVersion(ctx context.Context, id uint) (*models.Version, error) {
	var v models.Version
	err := l.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("ledger.GetVersion", "version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	return &v, nil
}

// GetRevision returns a revision by id
func (l *Ledger) GetRevision(ctx context.Context, id uint) (*models.Revision, error) {
	var rev models.Revision
	err := l.db.WithContext(ctx).First(&rev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("ledger.GetRevision", "revision not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load revision: %w", err)
	}
	return &rev, nil
}

// ListRevisions returns the history of a version, newest first
func (l *Ledger) ListRevisions(ctx context.Context, versionID uint) ([]models.Revision, error) {
	var revs []models.Revision
	err := l.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Order("revision_no desc").
		Find(&revs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	return revs, nil
}

// ListVersions returns the versions of one application, newest first
func (l *Ledger) ListVersions(ctx context.Context, appID uint) ([]VersionSummary, error) {
	var versions []models.Version
	err := l.db.WithContext(ctx).
		Where("application_id = ?", appID).
		Order("created_at desc, id desc").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return l.summarize(ctx, versions)
}

// RecentVersions returns the latest versions across all applications
func (l *Ledger) RecentVersions(ctx context.Context, limit int) ([]VersionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	var versions []models.Version
	err := l.db.WithContext(ctx).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return l.summarize(ctx, versions)
}

// LatestVersion returns the most recently created version of an
// application, or nil when it has none.
func (l *Ledger) LatestVersion(ctx context.Context, appID uint) (*VersionSummary, error) {
	var versions []models.Version
	err := l.db.WithContext(ctx).
		Where("application_id = ?", appID).
		Order("created_at desc, id desc").
		Limit(1).
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest version: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil
	}

	out, err := l.summarize(ctx, versions)
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// Stats counts the catalog, its downloads and notices
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	db := l.db.WithContext(ctx)
	var s Stats
	counts := []struct {
		model any
		dst   *int64
	}{
		{&models.ApplicationType{}, &s.Applications},
		{&models.Version{}, &s.Versions},
		{&models.Revision{}, &s.Revisions},
		{&models.DownloadLog{}, &s.Downloads},
		{&models.Notice{}, &s.Notices},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}
	return &s, nil
}

func (l *Ledger) summarize(ctx context.Context, versions []models.Version) ([]VersionSummary, error) {
	out := make([]VersionSummary, 0, len(versions))
	if len(versions) == 0 {
		return out, nil
	}

	db := l.db.WithContext(ctx)

	appIDs := make([]uint, 0, len(versions))
	versionIDs := make([]uint, 0, len(versions))
	revIDs := make([]uint, 0, len(versions))
	for _, v := range versions {
		appIDs = append(appIDs, v.ApplicationID)
		versionIDs = append(versionIDs, v.ID)
		if v.CurrentRevisionID != nil {
			revIDs = append(revIDs, *v.CurrentRevisionID)
		}
	}

	var apps []models.ApplicationType
	if err := db.Where("id IN ?", appIDs).Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("failed to load applications: %w", err)
	}
	appByID := make(map[uint]models.ApplicationType, len(apps))
	for _, a := range apps {
		appByID[a.ID] = a
	}

	revByID := make(map[uint]models.Revision, len(revIDs))
	if len(revIDs) > 0 {
		var revs []models.Revision
		if err := db.Where("id IN ?", revIDs).Find(&revs).Error; err != nil {
			return nil, fmt.Errorf("failed to load revisions: %w", err)
		}
		for _, r := range revs {
			revByID[r.ID] = r
		}
	}

	var counts []struct {
		VersionID uint
		N         int64
	}
	err := db.Model(&models.Revision{}).
		Select("version_id, COUNT(*) AS n").
		Where("version_id IN ?", versionIDs).
		Group("version_id").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count revisions: %w", err)
	}
	countByID := make(map[uint]int64, len(counts))
	for _, c := range counts {
		countByID[c.VersionID] = c.N
	}

	for _, v := range versions {
		s := VersionSummary{Version: v, RevisionCount: countByID[v.ID]}
		if app, ok := appByID[v.ApplicationID]; ok {
			s.ApplicationName = app.Name
			s.ApplicationSlug = app.Slug
		}
		if v.CurrentRevisionID != nil {
			if rev, ok := revByID[*v.CurrentRevisionID]; ok {
				s.Current = &rev
			}
		}
		out = append(out, s)
	}
	return out, nil
}
