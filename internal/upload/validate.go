package upload

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"apk-portal/internal/apperr"
)

// PackageExtension is the only accepted upload extension
const PackageExtension = ".apk"

const maxVersionLength = 64

var zipMagic = []byte("PK\x03\x04")

var allowedContentTypes = map[string]bool{
	"application/vnd.android.package-archive": true,
	"application/octet-stream":                true,
	"application/zip":                         true,
}

func validateVersion(version string) (string, error) {
	v := strings.TrimSpace(version)
	if v == "" {
		return "", apperr.Validation("upload.Submit", "version required")
	}
	if utf8.RuneCountInString(v) > maxVersionLength {
		return "", apperr.Validation("upload.Submit", "version too long (max 64 characters)")
	}
	return v, nil
}

// validatePackage checks extension, declared content type, size and the
// ZIP local-file-header signature, in that order.
func validatePackage(filename string, contentType string, data []byte, maxBytes int64) error {
	if !strings.HasSuffix(strings.ToLower(filename), PackageExtension) {
		return apperr.Validation("upload.Submit", "invalid package: only .apk files can be uploaded")
	}

	if ct := normalizeContentType(contentType); ct != "" && !allowedContentTypes[ct] {
		return apperr.Validation("upload.Submit", "invalid package: content type "+ct+" is not allowed")
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return apperr.Validation("upload.Submit", "invalid package: file exceeds the upload limit")
	}

	if len(data) < len(zipMagic) {
		return apperr.Validation("upload.Submit", "invalid package: file is too small")
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return apperr.Validation("upload.Submit", "invalid package: not a ZIP archive")
	}
	return nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// cleanFilename drops any client-side directory part
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
