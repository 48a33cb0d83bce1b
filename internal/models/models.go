package models

import "time"

// AdminUser is an administrator allowed to manage packages
type AdminUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"size:80;not null;uniqueIndex" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ApplicationType is a named, sluggified category of distributable package
type ApplicationType struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:120;not null;uniqueIndex" json:"name"`
	Slug        string    `gorm:"size:120;not null;uniqueIndex" json:"slug"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Version is a release line of one application type. CurrentRevisionID is
// nil only until the first revision is committed.
type Version struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ApplicationID     uint      `gorm:"not null;uniqueIndex:uq_versions_application_version" json:"application_id"`
	Version           string    `gorm:"size:64;not null;uniqueIndex:uq_versions_application_version" json:"version"`
	ReleaseNote       string    `gorm:"type:text" json:"release_note,omitempty"`
	CurrentRevisionID *uint     `gorm:"index" json:"current_revision_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Revision is one uploaded binary of a version
type Revision struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VersionID   uint      `gorm:"not null;uniqueIndex:uq_revisions_version_revision" json:"version_id"`
	RevisionNo  int       `gorm:"not null;uniqueIndex:uq_revisions_version_revision" json:"revision_no"`
	Locator     string    `gorm:"size:500;not null" json:"-"`
	Filename    string    `gorm:"size:255;not null" json:"filename"`
	Size        int64     `gorm:"not null" json:"size"`
	SHA256      string    `gorm:"column:sha256;size:64;not null" json:"sha256"`
	UploadedBy  *uint     `json:"uploaded_by,omitempty"`
	IsCurrent   bool      `gorm:"not null;index" json:"is_current"`
	PackageName string    `gorm:"size:255" json:"package_name,omitempty"` // from the APK manifest, when readable
	VersionName string    `gorm:"size:120" json:"version_name,omitempty"`
	VersionCode int64     `json:"version_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StagedUpload is a pending overwrite waiting for confirmation. It lives in
// the caller's session, never in the database.
type StagedUpload struct {
	Token            string    `json:"token"`
	StagedLocator    string    `json:"staged_locator"`
	ApplicationID    uint      `json:"application_id"`
	ApplicationName  string    `json:"application_name"`
	Version          string    `json:"version"`
	ReleaseNote      string    `json:"release_note,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuditLog records a state-changing action
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActorType  string    `gorm:"size:20;not null" json:"actor_type"`
	ActorID    *uint     `gorm:"index" json:"actor_id,omitempty"`
	Action     string    `gorm:"size:80;not null;index" json:"action"`
	TargetType string    `gorm:"size:80;not null" json:"target_type"`
	TargetID   *uint     `json:"target_id,omitempty"`
	IP         string    `gorm:"size:100" json:"ip,omitempty"`
	UserAgent  string    `gorm:"size:255" json:"user_agent,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// DownloadLog records a served download
type DownloadLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RevisionID    *uint     `gorm:"index" json:"revision_id,omitempty"`
	ApplicationID *uint     `gorm:"index" json:"application_id,omitempty"`
	Version       string    `gorm:"size:64;not null" json:"version"`
	IP            string    `gorm:"size:100" json:"ip,omitempty"`
	UserAgent     string    `gorm:"size:255" json:"user_agent,omitempty"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (AdminUser) TableName() string       { return "admin_users" }
func (ApplicationType) TableName() string { return "app_types" }
func (Version) TableName() string         { return "versions" }
func (Revision) TableName() string        { return "revisions" }
func (AuditLog) TableName() string        { return "audit_logs" }
func (DownloadLog) TableName() string     { return "download_logs" }
func (Notice) TableName() string          { return "notices" }

// All lists the tables managed by AutoMigrate
func All() []any {
	return []any{
		&AdminUser{},
		&ApplicationType{},
		&Version{},
		&Revision{},
		&AuditLog{},
		&DownloadLog{},
		&Notice{},
	}
}

// Notice is an announcement shown on the public index while visible.
// Pinned notices are listed first.
type Notice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:200;not null" json:"title"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	IsPinned  bool      `gorm:"not null" json:"is_pinned"`
	IsVisible bool      `gorm:"not null" json:"is_visible"`
	CreatedBy *uint     `json:"created_by,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
