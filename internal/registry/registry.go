package registry

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"apk-portal/internal/apperr"
	"apk-portal/internal/database"
	"apk-portal/internal/models"
)

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value and collapses every run of characters outside
// [a-z0-9] into a single hyphen. An empty result becomes "app".
func Slugify(value string) string {
	base := strings.ToLower(strings.TrimSpace(value))
	base = strings.Trim(slugSeparators.ReplaceAllString(base, "-"), "-")
	if base == "" {
		return "app"
	}
	return base
}

// AppInput carries the editable fields of an application type
type AppInput struct {
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug" yaml:"slug"`
	Description string `json:"description" yaml:"description"`
	Active      bool   `json:"is_active" yaml:"active"`
}

// Registry is the catalog of application types
type Registry struct {
	db *gorm.DB
}

// New creates a Registry backed by db
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Create registers a new application type
func (r *Registry) Create(ctx context.Context, in AppInput) (*models.ApplicationType, error) {
	name, slug, err := normalize(in)
	if err != nil {
		return nil, err
	}

	if err := r.checkUnique(ctx, 0, name, slug); err != nil {
		return nil, err
	}

	app := &models.ApplicationType{
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		IsActive:    in.Active,
	}
	if err := r.db.WithContext(ctx).Create(app).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperr.Conflict("registry.Create", "name or slug already in use")
		}
		return nil, err
	}
	return app, nil
}

// Update changes name, slug, description and active flag of an application type
func (r *Registry) Update(ctx context.Context, id uint, in AppInput) (*models.ApplicationType, error) {
	app, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	name, slug, err := normalize(in)
	if err != nil {
		return nil, err
	}
	if err := r.checkUnique(ctx, app.ID, name, slug); err != nil {
		return nil, err
	}

	app.Name = name
	app.Slug = slug
	app.Description = strings.TrimSpace(in.Description)
	app.IsActive = in.Active

	err = r.db.WithContext(ctx).Model(app).Select("name", "slug", "description", "is_active").Updates(app).Error
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, apperr.Conflict("registry.Update", "name or slug already in use")
		}
		return nil, err
	}
	return app, nil
}

// Find returns an application type by id, active or not
func (r *Registry) Find(ctx context.Context, id uint) (*models.ApplicationType, error) {
	var app models.ApplicationType
	err := r.db.WithContext(ctx).First(&app, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("registry.Find", "application not found")
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// FindBySlug returns an application type by slug, active or not
func (r *Registry) FindBySlug(ctx context.Context, slug string) (*models.ApplicationType, error) {
	var app models.ApplicationType
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("registry.FindBySlug", "application not found")
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// List returns application types ordered by name
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]models.ApplicationType, error) {
	q := r.db.WithContext(ctx).Order("name asc")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var apps []models.ApplicationType
	if err := q.Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

// Count returns the number of application types
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ApplicationType{}).Count(&n).Error
	return n, err
}

func normalize(in AppInput) (string, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", apperr.Validation("registry", "application name is required")
	}

	slug := in.Slug
	if strings.TrimSpace(slug) == "" {
		slug = name
	}
	return name, Slugify(slug), nil
}

func (r *Registry) checkUnique(ctx context.Context, selfID uint, name, slug string) error {
	q := r.db.WithContext(ctx).Model(&models.ApplicationType{}).
		Where("name = ? OR slug = ?", name, slug)
	if selfID != 0 {
		q = q.Where("id <> ?", selfID)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("registry", "name or slug already in use")
	}
	return nil
}
