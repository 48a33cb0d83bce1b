// Package upload decides what an incoming package does to the ledger. A
// package for a new version is committed straight away; a package for a
// version that already exists is staged and only becomes the current
// revision once the same session confirms it with the issued token.
package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"apk-portal/internal/apk"
	"apk-portal/internal/apperr"
	"apk-portal/internal/audit"
	"apk-portal/internal/feed"
	"apk-portal/internal/ledger"
	"apk-portal/internal/models"
	"apk-portal/internal/redis"
	"apk-portal/internal/storage"
)

// Audit actions
const (
	ActionCreateVersion       = "create_version"
	ActionUploadFirstRevision = "upload_first_revision"
	ActionStageOverwrite      = "stage_overwrite"
	ActionConfirmOverwrite    = "confirm_overwrite"
	ActionDeleteVersion       = "delete_version"
)

// Applications resolves application types
type Applications interface {
	Find(ctx context.Context, id uint) (*models.ApplicationType, error)
}

// Ledger is the part of the revision ledger the arbitrator drives
type Ledger interface {
	GetOrNone(ctx context.Context, appID uint, version string) (*models.Version, error)
	GetVersion(ctx context.Context, id uint) (*models.Version, error)
	NextRevisionNo(ctx context.Context, versionID uint) (int, error)
	CreateWithFirstRevision(ctx context.Context, appID uint, version string, releaseNote string, in ledger.RevisionInput) (*models.Version, *models.Revision, error)
	CommitNextRevision(ctx context.Context, v *models.Version, in ledger.RevisionInput, releaseNote *string) (*models.Revision, error)
	DeleteVersion(ctx context.Context, v *models.Version) (int, int, error)
}

// StagedStore keeps at most one staged upload per session
type StagedStore interface {
	GetStaged(ctx context.Context, sid string) (*models.StagedUpload, error)
	PutStaged(ctx context.Context, sid string, staged *models.StagedUpload) error
	ClearStaged(ctx context.Context, sid string, token string) error
}

// Locker serializes work on a key
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Auditor records state changes
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Notifier announces changes of a version's current revision
type Notifier interface {
	Publish(event feed.Event)
}

// Inspector reads the manifest of a package
type Inspector interface {
	Inspect(data []byte) (*apk.Manifest, error)
}

// Deps are the collaborators of an Arbitrator. Auditor, Notifier and
// Inspector are optional.
type Deps struct {
	Applications Applications
	Ledger       Ledger
	Store        storage.Storage
	Staged       StagedStore
	Locker       Locker
	Auditor      Auditor
	Notifier     Notifier
	Inspector    Inspector
	Log          *slog.Logger
}

// Actor identifies who triggered an operation
type Actor struct {
	AdminID   *uint
	IP        string
	UserAgent string
}

// Submission is one uploaded package
type Submission struct {
	SessionID     string
	ApplicationID uint
	Version       string
	ReleaseNote   string
	Filename      string
	ContentType   string // as declared by the client, may be empty
	Data          []byte
	Actor         Actor
}

// OutcomeKind tells accepted uploads from staged ones
type OutcomeKind int

const (
	Accepted OutcomeKind = iota + 1
	Staged
)

// String returns the string representation of the outcome kind
func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Staged:
		return "staged"
	default:
		return "unknown"
	}
}

// Outcome is the result of Submit or Confirm. Revision is set when
// accepted, Pending when staged.
type Outcome struct {
	Kind        OutcomeKind
	Application *models.ApplicationType
	Version     *models.Version
	Revision    *models.Revision
	Pending     *models.StagedUpload
}

// DeleteResult reports a version deletion
type DeleteResult struct {
	Application string `json:"application"`
	Version     string `json:"version"`
	Removed     int    `json:"removed"`
	Failed      int    `json:"failed"`
}

// Arbitrator runs the upload state machine
type Arbitrator struct {
	apps      Applications
	ledger    Ledger
	store     storage.Storage
	staged    StagedStore
	locker    Locker
	auditor   Auditor
	notifier  Notifier
	inspector Inspector
	maxBytes  int64
	log       *slog.Logger
	now       func() time.Time
}

// NewArbitrator creates an Arbitrator. Packages larger than maxBytes are
// rejected; zero disables the limit.
func NewArbitrator(d Deps, maxBytes int64) *Arbitrator {
	a := &Arbitrator{
		apps:      d.Applications,
		ledger:    d.Ledger,
		store:     d.Store,
		staged:    d.Staged,
		locker:    d.Locker,
		auditor:   d.Auditor,
		notifier:  d.Notifier,
		inspector: d.Inspector,
		maxBytes:  maxBytes,
		log:       d.Log.With("component", "upload"),
		now:       time.Now,
	}
	return a
}

// Submit validates a package and either commits it as the first revision
// of a new version or stages it for confirmation when the version exists.
// Rejections never touch the ledger or the store.
func (a *Arbitrator) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	app, err := a.apps.Find(ctx, sub.ApplicationID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	if app == nil || !app.IsActive {
		return nil, apperr.Validation("upload.Submit", "invalid application")
	}

	version, err := validateVersion(sub.Version)
	if err != nil {
		return nil, err
	}

	filename := cleanFilename(sub.Filename)
	if err := validatePackage(filename, sub.ContentType, sub.Data, a.maxBytes); err != nil {
		return nil, err
	}

	existing, err := a.ledger.GetOrNone(ctx, app.ID, version)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return a.stage(ctx, sub, app, existing, version, filename)
	}

	var out *Outcome
	err = a.locker.WithLock(ctx, redis.VersionLockKey(app.ID, version), func() error {
		// someone may have created the version while we waited
		existing, err := a.ledger.GetOrNone(ctx, app.ID, version)
		if err != nil {
			return err
		}
		if existing != nil {
			out, err = a.stage(ctx, sub, app, existing, version, filename)
			return err
		}

		out, err = a.commitNew(ctx, sub, app, version, filename)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// commitNew writes revision 1 and records the version with it. Runs under
// the version lock.
func (a *Arbitrator) commitNew(ctx context.Context, sub Submission, app *models.ApplicationType, version, filename string) (*Outcome, error) {
	in, err := a.writeRevision(app.Slug, version, 1, filename, sub.Data)
	if err != nil {
		return nil, err
	}
	in.UploadedBy = sub.Actor.AdminID

	v, rev, err := a.ledger.CreateWithFirstRevision(ctx, app.ID, version, sub.ReleaseNote, in)
	if err != nil {
		a.discard(in.Locator)
		if apperr.Is(err, apperr.KindConflict) {
			existing, lookupErr := a.ledger.GetOrNone(ctx, app.ID, version)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return a.stage(ctx, sub, app, existing, version, filename)
			}
		}
		return nil, err
	}

	a.log.Info("first revision committed",
		"application", app.Slug, "version", v.Version, "revision_id", rev.ID, "size", rev.Size)
	a.record(ctx, sub.Actor, ActionCreateVersion, "version", v.ID)
	a.record(ctx, sub.Actor, ActionUploadFirstRevision, "revision", rev.ID)
	a.publish(feed.ActionPublished, app, v, rev)

	return &Outcome{Kind: Accepted, Application: app, Version: v, Revision: rev}, nil
}

// stage parks the package in the temporary area and remembers it in the
// caller's session. A previously staged package of the session is dropped.
func (a *Arbitrator) stage(ctx context.Context, sub Submission, app *models.ApplicationType, existing *models.Version, version, filename string) (*Outcome, error) {
	if sub.SessionID == "" {
		return nil, apperr.Unauthorized("upload.stage", "a session is required to stage an overwrite")
	}

	previous, err := a.staged.GetStaged(ctx, sub.SessionID)
	if err != nil {
		return nil, err
	}

	locator, err := a.store.Stage(sub.Data)
	if err != nil {
		return nil, asStorage("upload.stage", err)
	}

	pending := &models.StagedUpload{
		Token:            uuid.NewString(),
		StagedLocator:    locator,
		ApplicationID:    app.ID,
		ApplicationName:  app.Name,
		Version:          version,
		ReleaseNote:      sub.ReleaseNote,
		OriginalFilename: filename,
		CreatedAt:        a.now().UTC(),
	}
	if err := a.staged.PutStaged(ctx, sub.SessionID, pending); err != nil {
		a.discard(locator)
		return nil, err
	}
	if previous != nil {
		a.discard(previous.StagedLocator)
	}

	a.log.Info("overwrite staged", "application", app.Slug, "version", version, "filename", filename)
	a.record(ctx, sub.Actor, ActionStageOverwrite, "version", existing.ID)

	return &Outcome{Kind: Staged, Application: app, Version: existing, Pending: pending}, nil
}

// Confirm commits the package staged in session sid as the next revision of
// its version. token must be the one issued by Submit; it is accepted once.
func (a *Arbitrator) Confirm(ctx context.Context, sid string, token string, actor Actor) (*Outcome, error) {
	pending, err := a.matchStaged(ctx, sid, token)
	if err != nil {
		return nil, err
	}

	data, err := a.store.Read(pending.StagedLocator)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		a.clearStaged(ctx, sid, token)
		return nil, apperr.NotFound("upload.Confirm", "staged file missing")
	}

	app, err := a.apps.Find(ctx, pending.ApplicationID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	if app == nil || !app.IsActive {
		a.dropStaged(ctx, sid, pending)
		return nil, apperr.NotFound("upload.Confirm", "target no longer exists")
	}

	var out *Outcome
	err = a.locker.WithLock(ctx, redis.VersionLockKey(app.ID, pending.Version), func() error {
		// a concurrent confirm with the same token may have won the lock first
		if _, err := a.matchStaged(ctx, sid, token); err != nil {
			return err
		}

		v, err := a.ledger.GetOrNone(ctx, app.ID, pending.Version)
		if err != nil {
			return err
		}
		if v == nil {
			a.dropStaged(ctx, sid, pending)
			return apperr.NotFound("upload.Confirm", "target no longer exists")
		}

		next, err := a.ledger.NextRevisionNo(ctx, v.ID)
		if err != nil {
			return err
		}

		in, err := a.writeRevision(app.Slug, v.Version, next, pending.OriginalFilename, data)
		if err != nil {
			return err
		}
		in.UploadedBy = actor.AdminID

		var note *string
		if pending.ReleaseNote != "" {
			note = &pending.ReleaseNote
		}
		rev, err := a.ledger.CommitNextRevision(ctx, v, in, note)
		if err != nil {
			a.discard(in.Locator)
			return err
		}

		a.dropStaged(ctx, sid, pending)
		out = &Outcome{Kind: Accepted, Application: app, Version: v, Revision: rev}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.log.Info("overwrite confirmed",
		"application", app.Slug, "version", out.Version.Version, "revision_no", out.Revision.RevisionNo)
	a.record(ctx, actor, ActionConfirmOverwrite, "revision", out.Revision.ID)
	a.publish(feed.ActionOverwritten, app, out.Version, out.Revision)

	return out, nil
}

// Abandon forgets the session's staged package
func (a *Arbitrator) Abandon(ctx context.Context, sid string) error {
	pending, err := a.staged.GetStaged(ctx, sid)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}

	if err := a.staged.ClearStaged(ctx, sid, ""); err != nil {
		return err
	}
	a.discard(pending.StagedLocator)
	a.log.Info("staged upload abandoned", "application_id", pending.ApplicationID, "version", pending.Version)
	return nil
}

// Pending returns the session's staged package, or nil
func (a *Arbitrator) Pending(ctx context.Context, sid string) (*models.StagedUpload, error) {
	if sid == "" {
		return nil, nil
	}
	return a.staged.GetStaged(ctx, sid)
}

// DeleteVersion removes a version with all its revisions and blobs
func (a *Arbitrator) DeleteVersion(ctx context.Context, versionID uint, actor Actor) (*DeleteResult, error) {
	v, err := a.ledger.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	app, err := a.apps.Find(ctx, v.ApplicationID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	result := &DeleteResult{Version: v.Version}
	if app != nil {
		result.Application = app.Name
	}

	err = a.locker.WithLock(ctx, redis.VersionLockKey(v.ApplicationID, v.Version), func() error {
		removed, failed, err := a.ledger.DeleteVersion(ctx, v)
		result.Removed, result.Failed = removed, failed
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Failed > 0 {
		a.log.Warn("version deleted with blobs left to clean up manually",
			"version_id", v.ID, "version", v.Version, "removed", result.Removed, "failed", result.Failed)
	} else {
		a.log.Info("version deleted", "version_id", v.ID, "version", v.Version, "removed", result.Removed)
	}
	a.record(ctx, actor, ActionDeleteVersion, "version", v.ID)
	if app != nil {
		a.publish(feed.ActionDeleted, app, v, nil)
	}
	return result, nil
}

// matchStaged returns the session's staged upload if it carries token
func (a *Arbitrator) matchStaged(ctx context.Context, sid string, token string) (*models.StagedUpload, error) {
	if sid == "" || token == "" {
		return nil, apperr.NotFound("upload.Confirm", "invalid or expired confirmation")
	}
	pending, err := a.staged.GetStaged(ctx, sid)
	if err != nil {
		return nil, err
	}
	if pending == nil || pending.Token != token {
		return nil, apperr.NotFound("upload.Confirm", "invalid or expired confirmation")
	}
	return pending, nil
}

func (a *Arbitrator) clearStaged(ctx context.Context, sid string, token string) {
	if err := a.staged.ClearStaged(ctx, sid, token); err != nil {
		a.log.Warn("failed to clear staged upload", "error", err)
	}
}

// dropStaged clears the record and its temporary blob
func (a *Arbitrator) dropStaged(ctx context.Context, sid string, pending *models.StagedUpload) {
	a.clearStaged(ctx, sid, pending.Token)
	a.discard(pending.StagedLocator)
}

func (a *Arbitrator) record(ctx context.Context, actor Actor, action string, targetType string, targetID uint) {
	if a.auditor == nil {
		return
	}
	actorType := audit.ActorSystem
	if actor.AdminID != nil {
		actorType = audit.ActorAdmin
	}
	a.auditor.Record(ctx, audit.Event{
		ActorType:  actorType,
		ActorID:    actor.AdminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   &targetID,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	})
}

func (a *Arbitrator) publish(action string, app *models.ApplicationType, v *models.Version, rev *models.Revision) {
	if a.notifier == nil {
		return
	}
	event := feed.Event{
		Action:      action,
		Application: app.Slug,
		Version:     v.Version,
		Timestamp:   a.now().Unix(),
	}
	if rev != nil {
		event.RevisionID = rev.ID
		event.RevisionNo = rev.RevisionNo
		event.SHA256 = rev.SHA256
		event.Size = rev.Size
	}
	a.notifier.Publish(event)
}
