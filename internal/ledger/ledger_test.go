package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
	"apk-portal/internal/storage"
	"apk-portal/internal/testutil"
)

func setupLedger(t *testing.T) (*Ledger, *storage.LocalStorage, *models.ApplicationType) {
	t.Helper()

	db := testutil.NewDB(t)
	store, _ := testutil.NewStorage(t)

	app := &models.ApplicationType{Name: "POS App", Slug: "pos-app", IsActive: true}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	return New(db, store, testutil.Logger()), store, app
}

func putBlob(t *testing.T, store storage.Storage, revisionNo int, body string) RevisionInput {
	t.Helper()

	locator, err := store.Put("pos-app", "1.0.0", revisionNo, "pos.apk", []byte(body))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	return RevisionInput{Locator: locator, Filename: "pos.apk", Size: int64(len(body)), SHA256: fmt.Sprintf("%064d", revisionNo)}
}

func assertSingleCurrent(t *testing.T, l *Ledger, versionID uint) models.Revision {
	t.Helper()

	revs, err := l.ListRevisions(context.Background(), versionID)
	if err != nil {
		t.Fatalf("ListRevisions failed: %v", err)
	}

	var current []models.Revision
	for _, r := range revs {
		if r.IsCurrent {
			current = append(current, r)
		}
	}
	if len(current) != 1 {
		t.Fatalf("Expected exactly one current revision, got %d", len(current))
	}

	v, err := l.GetVersion(context.Background(), versionID)
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if v.CurrentRevisionID == nil || *v.CurrentRevisionID != current[0].ID {
		t.Fatalf("Version pointer %v does not match current revision %d", v.CurrentRevisionID, current[0].ID)
	}
	return current[0]
}

func TestLedger_CreateWithFirstRevision(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	v, rev, err := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", " first ", putBlob(t, store, 1, "one"))
	if err != nil {
		t.Fatalf("CreateWithFirstRevision failed: %v", err)
	}
	if rev.RevisionNo != 1 || !rev.IsCurrent {
		t.Errorf("Expected current revision 1, got %+v", rev)
	}
	if v.ReleaseNote != "first" {
		t.Errorf("Expected trimmed release note, got %q", v.ReleaseNote)
	}

	current := assertSingleCurrent(t, l, v.ID)
	if current.ID != rev.ID {
		t.Errorf("Expected current %d, got %d", rev.ID, current.ID)
	}

	got, err := l.GetOrNone(ctx, app.ID, "1.0.0")
	if err != nil || got == nil || got.ID != v.ID {
		t.Errorf("GetOrNone returned %v, %v", got, err)
	}
	none, err := l.GetOrNone(ctx, app.ID, "9.9.9")
	if err != nil || none != nil {
		t.Errorf("Expected nil for unknown version, got %v, %v", none, err)
	}
}

func TestLedger_CreateVersion_Conflict(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	if _, _, err := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", putBlob(t, store, 1, "one")); err != nil {
		t.Fatalf("CreateWithFirstRevision failed: %v", err)
	}

	_, err := l.CreateVersion(ctx, app.ID, "1.0.0", "")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected Conflict, got %v", err)
	}

	_, _, err = l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", putBlob(t, store, 1, "again"))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected Conflict from combined create, got %v", err)
	}

	revs, _ := l.ListRevisions(ctx, 1)
	if len(revs) != 1 {
		t.Errorf("Conflicting create must not add revisions, got %d", len(revs))
	}
}

func TestLedger_TransactionRollsBack(t *testing.T) {
	l, _, app := setupLedger(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.Transaction(ctx, func(tx *Ledger) error {
		if _, err := tx.CreateVersion(ctx, app.ID, "2.0.0", ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	v, err := l.GetOrNone(ctx, app.ID, "2.0.0")
	if err != nil || v != nil {
		t.Errorf("Version should have been rolled back, got %v, %v", v, err)
	}
}

func TestLedger_CommitNextRevision(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	v, _, err := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "first", putBlob(t, store, 1, "one"))
	if err != nil {
		t.Fatalf("CreateWithFirstRevision failed: %v", err)
	}

	next, err := l.NextRevisionNo(ctx, v.ID)
	if err != nil || next != 2 {
		t.Fatalf("Expected next revision 2, got %d, %v", next, err)
	}

	rev2, err := l.CommitNextRevision(ctx, v, putBlob(t, store, 2, "two"), nil)
	if err != nil {
		t.Fatalf("CommitNextRevision failed: %v", err)
	}
	if rev2.RevisionNo != 2 {
		t.Errorf("Expected revision 2, got %d", rev2.RevisionNo)
	}
	if cur := assertSingleCurrent(t, l, v.ID); cur.ID != rev2.ID {
		t.Errorf("Expected revision 2 to be current")
	}

	reloaded, _ := l.GetVersion(ctx, v.ID)
	if reloaded.ReleaseNote != "first" {
		t.Errorf("Release note should be unchanged, got %q", reloaded.ReleaseNote)
	}

	note := "hotfix"
	rev3, err := l.CommitNextRevision(ctx, v, putBlob(t, store, 3, "three"), &note)
	if err != nil {
		t.Fatalf("CommitNextRevision failed: %v", err)
	}
	if rev3.RevisionNo != 3 {
		t.Errorf("Expected revision 3, got %d", rev3.RevisionNo)
	}
	assertSingleCurrent(t, l, v.ID)

	reloaded, _ = l.GetVersion(ctx, v.ID)
	if reloaded.ReleaseNote != "hotfix" {
		t.Errorf("Expected release note to be replaced, got %q", reloaded.ReleaseNote)
	}

	// Old revisions stay as history, newest first
	revs, _ := l.ListRevisions(ctx, v.ID)
	if len(revs) != 3 || revs[0].RevisionNo != 3 || revs[2].RevisionNo != 1 {
		t.Errorf("Unexpected history: %+v", revs)
	}
}

func TestLedger_NumbersNeverReused(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	v, _, _ := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", putBlob(t, store, 1, "one"))
	l.CommitNextRevision(ctx, v, putBlob(t, store, 2, "two"), nil)

	// Drop revision 1 behind the ledger's back; numbering still follows the max
	if err := l.db.Where("version_id = ? AND revision_no = ?", v.ID, 1).Delete(&models.Revision{}).Error; err != nil {
		t.Fatalf("Failed to delete revision: %v", err)
	}

	rev, err := l.CommitNextRevision(ctx, v, putBlob(t, store, 3, "three"), nil)
	if err != nil {
		t.Fatalf("CommitNextRevision failed: %v", err)
	}
	if rev.RevisionNo != 3 {
		t.Errorf("Expected revision 3, got %d", rev.RevisionNo)
	}
}

// Blobs that vanished from disk are counted as failures, not errors.
func TestLedger_DeleteVersion(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	in1 := putBlob(t, store, 1, "one")
	v, _, _ := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", in1)
	in2 := putBlob(t, store, 2, "two")
	l.CommitNextRevision(ctx, v, in2, nil)
	in3 := putBlob(t, store, 3, "three")
	l.CommitNextRevision(ctx, v, in3, nil)

	// Blobs of revisions 1 and 3 vanished outside the portal
	if err := os.Remove(in3.Locator); err != nil {
		t.Fatalf("Failed to remove blob: %v", err)
	}
	if err := os.Remove(in1.Locator); err != nil {
		t.Fatalf("Failed to remove blob: %v", err)
	}

	removed, failed, err := l.DeleteVersion(ctx, v)
	if err != nil {
		t.Fatalf("DeleteVersion failed: %v", err)
	}
	if removed != 1 || failed != 2 {
		t.Errorf("Expected removed=1 failed=2, got removed=%d failed=%d", removed, failed)
	}

	if _, err := l.GetVersion(ctx, v.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected version to be gone, got %v", err)
	}
	revs, _ := l.ListRevisions(ctx, v.ID)
	if len(revs) != 0 {
		t.Errorf("Expected no revisions, got %d", len(revs))
	}
	if _, err := os.Stat(in2.Locator); !os.IsNotExist(err) {
		t.Errorf("Expected blob of revision 2 to be deleted")
	}
}

func TestLedger_DeleteVersion_TwoRevisionsOneMissing(t *testing.T) {
	db := testutil.NewDB(t)
	app := &models.ApplicationType{Name: "Sales", Slug: "sales", IsActive: true}
	db.Create(app)

	deleted := map[string]bool{}
	store := &storage.MockStorage{
		DeleteFunc: func(locator string) error {
			if locator == "missing" {
				return apperr.NotFound("storage.Delete", "blob not found")
			}
			deleted[locator] = true
			return nil
		},
	}
	l := New(db, store, testutil.Logger())
	ctx := context.Background()

	v, _, err := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", RevisionInput{Locator: "present", Filename: "a.apk", Size: 4, SHA256: "x"})
	if err != nil {
		t.Fatalf("CreateWithFirstRevision failed: %v", err)
	}
	if _, err := l.CommitNextRevision(ctx, v, RevisionInput{Locator: "missing", Filename: "a.apk", Size: 4, SHA256: "y"}, nil); err != nil {
		t.Fatalf("CommitNextRevision failed: %v", err)
	}

	removed, failed, err := l.DeleteVersion(ctx, v)
	if err != nil {
		t.Fatalf("DeleteVersion failed: %v", err)
	}
	if removed != 1 || failed != 1 {
		t.Errorf("Expected removed=1 failed=1, got removed=%d failed=%d", removed, failed)
	}
	if !deleted["present"] {
		t.Error("Expected present blob to be deleted")
	}
}

func TestLedger_Queries(t *testing.T) {
	l, store, app := setupLedger(t)
	ctx := context.Background()

	if latest, err := l.LatestVersion(ctx, app.ID); err != nil || latest != nil {
		t.Fatalf("Expected no latest version, got %v, %v", latest, err)
	}

	v1, _, _ := l.CreateWithFirstRevision(ctx, app.ID, "1.0.0", "", putBlob(t, store, 1, "one"))
	l.CommitNextRevision(ctx, v1, putBlob(t, store, 2, "two"), nil)
	v2, rev, _ := l.CreateWithFirstRevision(ctx, app.ID, "1.1.0", "", putBlob(t, store, 1, "eleven"))

	latest, err := l.LatestVersion(ctx, app.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest.ID != v2.ID || latest.Current == nil || latest.Current.ID != rev.ID {
		t.Errorf("Unexpected latest version: %+v", latest)
	}
	if latest.ApplicationSlug != "pos-app" {
		t.Errorf("Expected application slug, got %q", latest.ApplicationSlug)
	}

	versions, err := l.ListVersions(ctx, app.ID)
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 || versions[1].RevisionCount != 2 {
		t.Errorf("Unexpected versions: %+v", versions)
	}

	recent, _ := l.RecentVersions(ctx, 1)
	if len(recent) != 1 || recent[0].ID != v2.ID {
		t.Errorf("Unexpected recent versions: %+v", recent)
	}

	got, err := l.GetRevision(ctx, rev.ID)
	if err != nil || got.Filename != "pos.apk" {
		t.Errorf("GetRevision returned %v, %v", got, err)
	}
	if _, err := l.GetRevision(ctx, 999); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Applications != 1 || stats.Versions != 2 || stats.Revisions != 3 || stats.Downloads != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
