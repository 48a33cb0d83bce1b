package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"apk-portal/internal/models"
	"apk-portal/internal/testutil"
	"apk-portal/internal/upload"
)

type pendingEnvelope struct {
	Pending *PendingResponse `json:"pending"`
}

func (s *testServer) submit(t *testing.T, cookie *http.Cookie, version, filename string, content []byte) (int, SubmitResponse) {
	t.Helper()

	body, contentType := packageForm(t, s.app.ID, version, filename, content)
	rr := s.adminRequest(t, cookie, http.MethodPost, "/admin/packages", body, contentType)

	var response SubmitResponse
	if rr.Code == http.StatusCreated || rr.Code == http.StatusAccepted {
		decode(t, rr, &response)
	}
	return rr.Code, response
}

func TestUploadHandler_FirstUploadCreatesVersion(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	content := testutil.APK("release build")
	code, response := s.submit(t, cookie, "1.0.0", "pos.apk", content)
	if code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", code)
	}

	if response.Status != upload.Accepted.String() {
		t.Errorf("Expected status %s, got %s", upload.Accepted, response.Status)
	}
	if response.Version == nil || response.Version.Version != "1.0.0" {
		t.Fatalf("Unexpected version: %+v", response.Version)
	}
	if response.Revision == nil || response.Revision.RevisionNo != 1 {
		t.Fatalf("Unexpected revision: %+v", response.Revision)
	}

	hash := sha256.Sum256(content)
	if response.Revision.SHA256 != hex.EncodeToString(hash[:]) {
		t.Errorf("Expected checksum %x, got %s", hash, response.Revision.SHA256)
	}
	if response.Version.ReleaseNote != "notes for 1.0.0" {
		t.Errorf("Expected release note to be stored, got %q", response.Version.ReleaseNote)
	}
}

func TestUploadHandler_OverwriteRequiresConfirmation(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	if code, _ := s.submit(t, cookie, "1.0.0", "pos.apk", testutil.APK("first")); code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", code)
	}

	code, staged := s.submit(t, cookie, "1.0.0", "pos-fixed.apk", testutil.APK("second"))
	if code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", code)
	}
	if staged.Pending == nil || staged.Pending.Token == "" {
		t.Fatalf("Expected a pending token, got %+v", staged)
	}
	if staged.Revision != nil {
		t.Error("Staging must not report a new revision")
	}

	rr := s.adminRequest(t, cookie, http.MethodGet, "/admin/packages/pending", nil, "")
	var pending pendingEnvelope
	decode(t, rr, &pending)
	if pending.Pending == nil || pending.Pending.Token != staged.Pending.Token {
		t.Fatalf("Expected staged upload to be pending, got %+v", pending.Pending)
	}
	if pending.Pending.OriginalFilename != "pos-fixed.apk" {
		t.Errorf("Unexpected filename %q", pending.Pending.OriginalFilename)
	}

	confirm := bytes.NewBufferString(fmt.Sprintf(`{"token":%q}`, staged.Pending.Token))
	rr = s.adminRequest(t, cookie, http.MethodPost, "/admin/packages/confirm", confirm, "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from confirm, got %d: %s", rr.Code, rr.Body.String())
	}

	var confirmed SubmitResponse
	decode(t, rr, &confirmed)
	if confirmed.Revision == nil || confirmed.Revision.RevisionNo != 2 || !confirmed.Revision.IsCurrent {
		t.Fatalf("Expected current revision 2, got %+v", confirmed.Revision)
	}

	// The token is single use
	again := bytes.NewBufferString(fmt.Sprintf(`{"token":%q}`, staged.Pending.Token))
	rr = s.adminRequest(t, cookie, http.MethodPost, "/admin/packages/confirm", again, "application/json")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for a used token, got %d", rr.Code)
	}
}

func TestUploadHandler_ConfirmAcceptsFormToken(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	s.submit(t, cookie, "2.0.0", "pos.apk", testutil.APK("first"))
	_, staged := s.submit(t, cookie, "2.0.0", "pos.apk", testutil.APK("second"))
	if staged.Pending == nil {
		t.Fatal("Expected a staged upload")
	}

	form := bytes.NewBufferString("token=" + staged.Pending.Token)
	rr := s.adminRequest(t, cookie, http.MethodPost, "/admin/packages/confirm", form, "application/x-www-form-urlencoded")
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUploadHandler_Rejections(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	tests := []struct {
		name     string
		appID    uint
		version  string
		filename string
		content  []byte
		want     int
	}{
		{"wrong extension", s.app.ID, "1.0.0", "pos.zip", testutil.APK("x"), http.StatusBadRequest},
		{"not a zip", s.app.ID, "1.0.0", "pos.apk", []byte("plain text body"), http.StatusBadRequest},
		{"empty version", s.app.ID, "  ", "pos.apk", testutil.APK("x"), http.StatusBadRequest},
		{"unknown application", 9999, "1.0.0", "pos.apk", testutil.APK("x"), http.StatusBadRequest},
		{"too large", s.app.ID, "1.0.0", "pos.apk", testutil.APK(strings.Repeat("a", 1<<20)), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := packageForm(t, tt.appID, tt.version, tt.filename, tt.content)
			rr := s.adminRequest(t, cookie, http.MethodPost, "/admin/packages", body, contentType)
			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}

			var response models.ErrorResponse
			decode(t, rr, &response)
			if response.Message == "" {
				t.Error("Expected an error message")
			}
		})
	}

	var versions int64
	s.db.Model(&models.Version{}).Count(&versions)
	if versions != 0 {
		t.Errorf("Rejected uploads must not create versions, got %d", versions)
	}
}

func TestUploadHandler_MissingFile(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	body := bytes.NewBufferString("")
	rr := s.adminRequest(t, cookie, http.MethodPost, "/admin/packages", body, "multipart/form-data; boundary=none")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestUploadHandler_Abandon(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	s.submit(t, cookie, "1.0.0", "pos.apk", testutil.APK("first"))
	if code, _ := s.submit(t, cookie, "1.0.0", "pos.apk", testutil.APK("second")); code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", code)
	}

	rr := s.adminRequest(t, cookie, http.MethodDelete, "/admin/packages/pending", nil, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}

	rr = s.adminRequest(t, cookie, http.MethodGet, "/admin/packages/pending", nil, "")
	var pending pendingEnvelope
	decode(t, rr, &pending)
	if pending.Pending != nil {
		t.Errorf("Expected no pending upload after abandon, got %+v", pending.Pending)
	}

	var revisions int64
	s.db.Model(&models.Revision{}).Count(&revisions)
	if revisions != 1 {
		t.Errorf("Expected 1 revision, got %d", revisions)
	}
}

func TestUploadHandler_DeleteVersion(t *testing.T) {
	s := setupTestServer(t)
	cookie := s.login(t)

	_, created := s.submit(t, cookie, "1.0.0", "pos.apk", testutil.APK("first"))
	if created.Version == nil {
		t.Fatal("Expected a created version")
	}

	path := fmt.Sprintf("/admin/versions/%d", created.Version.ID)
	rr := s.adminRequest(t, cookie, http.MethodDelete, path, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result upload.DeleteResult
	decode(t, rr, &result)
	if result.Removed != 1 || result.Failed != 0 {
		t.Errorf("Expected removed=1 failed=0, got %+v", result)
	}

	rr = s.adminRequest(t, cookie, http.MethodDelete, path, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for a deleted version, got %d", rr.Code)
	}
}
