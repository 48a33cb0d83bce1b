// Package notices keeps the announcements shown on the public index.
package notices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
)

const maxTitleLength = 200

// Input carries the editable fields of a notice
type Input struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Pinned  bool   `json:"is_pinned"`
	Visible bool   `json:"is_visible"`
}

// Board stores notices
type Board struct {
	db *gorm.DB
}

// New creates a Board backed by db
func New(db *gorm.DB) *Board {
	return &Board{db: db}
}

// Create posts a new notice. createdBy may be nil for notices not made
// through an admin session.
func (b *Board) Create(ctx context.Context, in Input, createdBy *uint) (*models.Notice, error) {
	title, body, err := normalize(in)
	if err != nil {
		return nil, err
	}

	n := &models.Notice{
		Title:     title,
		Body:      body,
		IsPinned:  in.Pinned,
		IsVisible: in.Visible,
		CreatedBy: createdBy,
	}
	if err := b.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, fmt.Errorf("failed to create notice: %w", err)
	}
	return n, nil
}

// Update replaces title, body and both flags of a notice
func (b *Board) Update(ctx context.Context, id uint, in Input) (*models.Notice, error) {
	n, err := b.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	title, body, err := normalize(in)
	if err != nil {
		return nil, err
	}

	n.Title = title
	n.Body = body
	n.IsPinned = in.Pinned
	n.IsVisible = in.Visible

	err = b.db.WithContext(ctx).Model(n).Select("title", "body", "is_pinned", "is_visible").Updates(n).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update notice: %w", err)
	}
	return n, nil
}

// ToggleVisibility flips whether a notice is shown publicly
func (b *Board) ToggleVisibility(ctx context.Context, id uint) (*models.Notice, error) {
	n, err := b.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	n.IsVisible = !n.IsVisible
	if err := b.db.WithContext(ctx).Model(n).Select("is_visible").Updates(n).Error; err != nil {
		return nil, fmt.Errorf("failed to update notice: %w", err)
	}
	return n, nil
}

// Find returns a notice by id, visible or not
func (b *Board) Find(ctx context.Context, id uint) (*models.Notice, error) {
	var n models.Notice
	err := b.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("notices.Find", "notice not found")
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// List returns every notice, newest first
func (b *Board) List(ctx context.Context) ([]models.Notice, error) {
	var out []models.Notice
	err := b.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	return out, nil
}

// Visible returns the public notices: pinned first, then newest first
func (b *Board) Visible(ctx context.Context) ([]models.Notice, error) {
	var out []models.Notice
	err := b.db.WithContext(ctx).
		Where("is_visible = ?", true).
		Order("is_pinned desc").
		Order("created_at desc").
		Order("id desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	return out, nil
}

func normalize(in Input) (string, string, error) {
	title := strings.TrimSpace(in.Title)
	body := strings.TrimSpace(in.Body)
	if title == "" || body == "" {
		return "", "", apperr.Validation("notices", "title and body are required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", apperr.Validation("notices", "title too long (max 200 characters)")
	}
	return title, body, nil
}
