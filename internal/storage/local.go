package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"apk-portal/internal/apperr"
)

// maxPutAttempts bounds the suffix search when a target name is taken.
const maxPutAttempts = 100

// LocalStorage implements Storage interface using local filesystem
type LocalStorage struct {
	filesRoot string
	tmpRoot   string
	now       func() time.Time
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(filesRoot string, tmpRoot string) (*LocalStorage, error) {
	for _, dir := range []string{filesRoot, tmpRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return &LocalStorage{
		filesRoot: filesRoot,
		tmpRoot:   tmpRoot,
		now:       time.Now,
	}, nil
}

// SafeName keeps letters, digits, '-', '_' and '.' and replaces every other
// character with '_'.
func SafeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// dirFor returns the directory holding every revision of a version.
// Structure: {filesRoot}/{appSlug}/{version}
func (ls *LocalStorage) dirFor(appSlug string, version string) string {
	return filepath.Join(ls.filesRoot, SafeName(appSlug), versionDir(version))
}

// versionDir keeps version strings like ".." from escaping the app directory.
func versionDir(version string) string {
	safe := SafeName(version)
	if strings.Trim(safe, ".") == "" {
		return strings.ReplaceAll(safe, ".", "_")
	}
	return safe
}

// Put stores a revision blob as r{revision}_{unix}_{safe filename}. A numeric
// suffix is added to the timestamp when that name is already taken.
func (ls *LocalStorage) Put(appSlug string, version string, revisionNo int, filename string, data []byte) (string, error) {
	dir := ls.dirFor(appSlug, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Storage("storage.Put", fmt.Errorf("failed to create directory: %w", err))
	}

	safe := SafeName(filename)
	ts := ls.now().Unix()

	for attempt := 0; attempt < maxPutAttempts; attempt++ {
		name := fmt.Sprintf("r%d_%d_%s", revisionNo, ts, safe)
		if attempt > 0 {
			name = fmt.Sprintf("r%d_%d-%d_%s", revisionNo, ts, attempt, safe)
		}
		target := filepath.Join(dir, name)

		err := writeExclusive(target, data)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", apperr.Storage("storage.Put", err)
		}
		return target, nil
	}

	return "", apperr.Storage("storage.Put", fmt.Errorf("no free name for %s in %s", safe, dir))
}

// Stage writes bytes to {tmpRoot}/{uuid}.upload
func (ls *LocalStorage) Stage(data []byte) (string, error) {
	if err := os.MkdirAll(ls.tmpRoot, 0755); err != nil {
		return "", apperr.Storage("storage.Stage", fmt.Errorf("failed to create directory: %w", err))
	}

	target := filepath.Join(ls.tmpRoot, uuid.NewString()+".upload")
	if err := writeExclusive(target, data); err != nil {
		return "", apperr.Storage("storage.Stage", err)
	}
	return target, nil
}

// Read retrieves a blob by its locator
func (ls *LocalStorage) Read(locator string) ([]byte, error) {
	if err := checkRegular("storage.Read", locator); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(locator)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("storage.Read", "blob not found")
		}
		return nil, apperr.Storage("storage.Read", err)
	}
	return data, nil
}

// Open returns the blob for streaming
func (ls *LocalStorage) Open(locator string) (io.ReadSeekCloser, int64, error) {
	if err := checkRegular("storage.Open", locator); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(locator)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, apperr.NotFound("storage.Open", "blob not found")
		}
		return nil, 0, apperr.Storage("storage.Open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, apperr.Storage("storage.Open", err)
	}
	return f, info.Size(), nil
}

// Delete removes a blob. A blob that is already gone is reported as
// NotFound so callers can count it; it is never fatal.
func (ls *LocalStorage) Delete(locator string) error {
	if err := os.Remove(locator); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("storage.Delete", "blob already removed")
		}
		return apperr.Storage("storage.Delete", err)
	}
	return nil
}

func checkRegular(op string, locator string) error {
	if locator == "" {
		return apperr.NotFound(op, "blob not found")
	}
	info, err := os.Stat(locator)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound(op, "blob not found")
		}
		return apperr.Storage(op, err)
	}
	if !info.Mode().IsRegular() {
		return apperr.NotFound(op, "blob is not a regular file")
	}
	return nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}
